// Package config defines the schema of the two YAML documents described in
// §6.3 (judge config, observability config) and validates/converts them —
// loading such a document from disk at startup is explicitly out of scope
// (§1), so there is no file-reading entry point here, only the parse,
// validate, and convert steps exercised by this package's round-trip
// tests. The ${ENV_VAR} substitution idiom mirrors the teacher's
// GOMIND_*-style env var tags in config.go.
package config

import (
	"os"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${ENV_VAR} occurrence in raw with the value of
// the named environment variable, leaving the placeholder untouched if the
// variable is unset (so a missing secret fails loudly downstream rather
// than silently becoming an empty string).
func expandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}
