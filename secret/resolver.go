package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// refPrefix marks a value, or a token inside one, as a secret reference.
const refPrefix = "secretref:"

// Resolver turns configuration values into credentials.
//
// A value is first expanded with ExpandEnvStrict. A value that is a single
// reference ("secretref:<provider>:<ref>") is replaced by what the provider
// returns; references embedded in a longer value ("Bearer secretref:env:T")
// are replaced in place. Anything else passes through unchanged.
type Resolver struct {
	providers map[string]Provider
	strict    bool
}

// NewResolver creates a resolver over providers. With strict set, a
// provider returning an empty value is an error.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider), strict: strict}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds provider, replacing one with the same name.
func (r *Resolver) Register(provider Provider) {
	if provider == nil {
		return
	}
	r.providers[provider.Name()] = provider
}

// Close closes every provider.
func (r *Resolver) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveValue resolves environment variables and secret references in value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if provider, ref, ok := ParseSecretRef(expanded); ok {
		return r.lookup(ctx, provider, ref)
	}
	return r.replaceEmbedded(ctx, expanded)
}

// Field is a named configuration value resolved in place.
type Field struct {
	Name  string
	Value *string
}

// ResolveFields resolves every non-empty field in place. The error names
// the first field that failed; fields before it are already resolved.
func (r *Resolver) ResolveFields(ctx context.Context, fields ...Field) error {
	for _, f := range fields {
		if f.Value == nil || *f.Value == "" {
			continue
		}
		resolved, err := r.ResolveValue(ctx, *f.Value)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f.Name, err)
		}
		*f.Value = resolved
	}
	return nil
}

// ParseSecretRef splits a value of the form secretref:<provider>:<ref>.
// A value containing whitespace is not a single reference.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" || strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) lookup(ctx context.Context, provider, ref string) (string, error) {
	p, ok := r.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotRegistered, provider)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secretref:%s: %w", provider, err)
	}
	if r.strict && v == "" {
		return "", fmt.Errorf("%w: secretref:%s", ErrEmptySecret, provider)
	}
	return v, nil
}

// replaceEmbedded resolves each whitespace-delimited reference inside value.
func (r *Resolver) replaceEmbedded(ctx context.Context, value string) (string, error) {
	var b strings.Builder
	rest := value
	for {
		i := strings.Index(rest, refPrefix)
		if i < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:i])
		rest = rest[i:]

		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		token := rest[:end]
		rest = rest[end:]

		provider, ref, ok := ParseSecretRef(token)
		if !ok {
			// Not a complete reference; keep it literally.
			b.WriteString(token)
			continue
		}
		v, err := r.lookup(ctx, provider, ref)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
}
