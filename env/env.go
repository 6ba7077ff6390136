// Package env gives the rest of the module a single place to read
// process environment variables from, real or synthetic, so that
// config resolution can be exercised against a fixed key/value list in
// tests instead of the live process environment.
package env

import (
	"os"
	"strings"
)

// Env is an immutable snapshot of a set of environment variables.
type Env struct {
	env map[string]string
}

// NewFromOs returns an Env built from the real process environment.
func NewFromOs() *Env {
	return NewFromKVList(os.Environ())
}

// NewFromKVList builds an Env from a list of "KEY=VALUE" strings, the
// format returned by os.Environ. A key with no "=" is stored with an
// empty value.
func NewFromKVList(kv []string) *Env {
	m := make(map[string]string, len(kv))
	for _, e := range kv {
		k, v, _ := strings.Cut(e, "=")
		m[k] = v
	}
	return &Env{env: m}
}

// Has reports whether key was set, even to an empty value.
func (e *Env) Has(key string) bool {
	_, ok := e.env[key]
	return ok
}

// Get returns key's value, or "" if it wasn't set.
func (e *Env) Get(key string) string {
	return e.env[key]
}
