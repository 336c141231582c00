// Package opprovider resolves credentials template references with the
// 1Password CLI.
package opprovider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wolfeidau/doc-cache/credentials"
)

// Option configures the provider.
type Option func(*provider)

type provider struct {
	binary  string
	account string
}

// WithBinary sets the op executable. Default is "op" on PATH.
func WithBinary(path string) Option {
	return func(p *provider) {
		p.binary = path
	}
}

// WithAccount selects a 1Password account for every read.
func WithAccount(account string) Option {
	return func(p *provider) {
		p.account = account
	}
}

// WithOnePassword registers an "op" template function that resolves
// op:// references with `op read`.
func WithOnePassword(opts ...Option) credentials.ResolverOption {
	p := &provider{binary: "op"}
	for _, opt := range opts {
		opt(p)
	}
	return credentials.WithProvider("op", p.read)
}

func (p *provider) read(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, "op://") {
		return "", fmt.Errorf("op: reference %q must start with op://", ref)
	}

	args := []string{"read", "--no-newline"}
	if p.account != "" {
		args = append(args, "--account", p.account)
	}
	args = append(args, ref)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("op read %q: %s: %w", ref, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
