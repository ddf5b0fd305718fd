// Package secrets keeps credentials out of workflow definitions. Params
// reference them as ${{ secrets.KEY }}; values are stored encrypted and
// only decrypted for the attempt that needs them.
package secrets

import (
	"context"
	"regexp"
	"slices"

	"github.com/trendy-design/taskflow/pkg/schema"
)

// Resolver returns the plaintext of a secret.
type Resolver interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// Vault is a Resolver that also manages the stored secrets.
type Vault interface {
	Resolver
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore persists encrypted values. Satisfied by *store.LibSQLStore.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

var (
	validKey  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reference = regexp.MustCompile(`(?:^|[^.\w])secrets\.([A-Za-z_][A-Za-z0-9_]*)`)
)

// ValidKey reports whether key can be referenced from an expression.
func ValidKey(key string) bool { return validKey.MatchString(key) }

// References returns the secret keys used inside the ${{ }} blocks of
// params, sorted and without duplicates.
func References(params any) []string {
	var keys []string
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			for _, block := range interpolationBlock.FindAllStringSubmatch(val, -1) {
				for _, m := range reference.FindAllStringSubmatch(block[1], -1) {
					keys = append(keys, m[1])
				}
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(params)
	slices.Sort(keys)
	return slices.Compact(keys)
}

var interpolationBlock = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// Lookup resolves keys into the "secrets" map of an expression scope.
func Lookup(ctx context.Context, r Resolver, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, key := range keys {
		if r == nil {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q is referenced but no vault is configured", key)
		}
		value, err := r.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = string(value)
	}
	return out, nil
}
