package ids

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Legacy record identifiers are "rec" followed by 14 alphanumerics.
var legacyIDPattern = regexp.MustCompile(`^rec[A-Za-z0-9]{14}$`)

type Kind int

const (
	KindUnknown Kind = iota
	KindUUID
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindUUID:
		return "uuid"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

func IsLegacyID(s string) bool { return legacyIDPattern.MatchString(strings.TrimSpace(s)) }

func IsUUID(s string) bool {
	id, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil && id != uuid.Nil
}

func Classify(s string) Kind {
	switch {
	case IsLegacyID(s):
		return KindLegacy
	case IsUUID(s):
		return KindUUID
	default:
		return KindUnknown
	}
}
