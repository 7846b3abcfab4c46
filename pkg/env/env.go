// Package env reads raw TISTIS_ environment variables during bootstrap,
// before config.Load has produced a validated Config.
package env

import (
	"os"
	"strings"
)

// Get returns the trimmed value of the given environment variable, or
// the fallback when it is unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
