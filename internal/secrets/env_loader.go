package secrets

import (
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables are silently omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// PrefixEnvLoader returns a Loader that reads every non-empty environment
// variable whose name starts with prefix. Extra names are read as well.
func PrefixEnvLoader(prefix string, extra ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, kv := range os.Environ() {
			name, val, ok := strings.Cut(kv, "=")
			if ok && val != "" && strings.HasPrefix(name, prefix) {
				vals[name] = val
			}
		}
		for _, k := range extra {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
