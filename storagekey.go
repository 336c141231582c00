package doccache

import (
	"fmt"
	"strings"
)

// NamespaceSeparator joins a namespace and a cache key in the durable store.
const NamespaceSeparator = ":"

// ValidateNamespace reports whether ns can be used as a storage namespace.
// The separator is rejected so that one namespace can never be a prefix of
// another namespace's keys.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidConfig)
	}
	if strings.Contains(ns, NamespaceSeparator) {
		return fmt.Errorf("%w: namespace %q must not contain %q", ErrInvalidConfig, ns, NamespaceSeparator)
	}
	return nil
}

// NamespacePrefix returns the prefix shared by every storage key in ns.
func NamespacePrefix(ns string) string {
	return ns + NamespaceSeparator
}

// StorageKey returns the durable store key for key within ns.
// Format: {namespace}:{key}
func StorageKey(ns, key string) string {
	return NamespacePrefix(ns) + key
}

// TrimNamespace extracts the cache key from a storage key. It returns false
// when storageKey does not belong to ns.
func TrimNamespace(ns, storageKey string) (string, bool) {
	return strings.CutPrefix(storageKey, NamespacePrefix(ns))
}
