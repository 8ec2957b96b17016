// Package backendmode decides which store is authoritative for a given
// surface while the legacy tabular store is migrated to Postgres.
//
// Modes are read from an environment-like key/value source. Anything that
// does not parse resolves to LegacyOnly, so a typo never switches traffic to
// the relational path.
package backendmode

import (
	"os"
	"strings"

	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
)

type Mode string

const (
	// LegacyOnly reads and writes the legacy store only.
	LegacyOnly Mode = "legacy_only"
	// ShadowRead writes the legacy store and compares the relational copy on read.
	ShadowRead Mode = "shadow_read"
	// Primary writes Postgres and propagates to the legacy store through the outbox.
	Primary Mode = "primary"
)

func (m Mode) String() string { return string(m) }

// UsesRelational reports whether the relational store takes part in requests.
func (m Mode) UsesRelational() bool {
	switch m {
	case ShadowRead, Primary:
		return true
	case LegacyOnly:
		return false
	default:
		return false
	}
}

func Parse(raw string) Mode {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch Mode(norm) {
	case LegacyOnly:
		return LegacyOnly
	case ShadowRead:
		return ShadowRead
	case Primary:
		return Primary
	default:
		return LegacyOnly
	}
}

// Source is the key/value lookup the resolver reads from.
type Source interface {
	Lookup(key string) (string, bool)
}

type envSource struct{}

func (envSource) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapSource is a fixed Source, mostly for tests and CLI overrides.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	if src == nil {
		src = envSource{}
	}
	return &Resolver{src: src}
}

func FromEnv() *Resolver { return NewResolver(envSource{}) }

func (r *Resolver) Mode(flagName string) Mode {
	if r == nil || r.src == nil {
		return LegacyOnly
	}
	raw, ok := r.src.Lookup(flagName)
	if !ok {
		return LegacyOnly
	}
	return Parse(raw)
}

func (r *Resolver) Flag(name string, def bool) bool {
	if r == nil || r.src == nil {
		return def
	}
	raw, ok := r.src.Lookup(name)
	if !ok {
		return def
	}
	return envutil.ParseBool(raw)
}
