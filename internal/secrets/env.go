// Package secrets resolves adapter credentials from environment variables.
// Construction-time use (see internal/config.RequireCredential) treats a
// missing variable as fatal; this package itself just reports not-found.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// NotFoundError reports that no environment variable matched a credential key.
type NotFoundError struct {
	Key    string
	EnvKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not set (expected env var %s)", e.Key, e.EnvKey)
}

// EnvProvider resolves PREFIX_KEY-shaped environment variables for one provider.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider builds a provider scoped to the given prefix, e.g. "binance"
// resolves "api_key" to the BINANCE_API_KEY environment variable.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: strings.ToUpper(prefix)}
}

func (p *EnvProvider) envKey(key string) string {
	if p.prefix == "" {
		return strings.ToUpper(key)
	}
	return fmt.Sprintf("%s_%s", p.prefix, strings.ToUpper(key))
}

// Get returns the raw value for key, or a *NotFoundError if unset or empty.
func (p *EnvProvider) Get(key string) (string, error) {
	envKey := p.envKey(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", &NotFoundError{Key: key, EnvKey: envKey}
	}
	return value, nil
}
