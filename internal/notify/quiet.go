// Package notify plans and sends reminder pushes.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
)

// ParseClock reads "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: want HH:MM: %w", s, apierr.ErrInvalidArgument)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM: %w", s, apierr.ErrInvalidArgument)
	}
	return h*60 + m, nil
}

// QuietHours is a local-clock window [Start, End). Start after End wraps past
// midnight; Start equal to End covers the whole day.
type QuietHours struct {
	Start int
	End   int
	set   bool
}

// ParseQuietHours returns a disabled window when both bounds are empty.
func ParseQuietHours(start, end string) (QuietHours, error) {
	if strings.TrimSpace(start) == "" && strings.TrimSpace(end) == "" {
		return QuietHours{}, nil
	}
	s, err := ParseClock(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{Start: s, End: e, set: true}, nil
}

func (q QuietHours) Enabled() bool { return q.set }

// Contains reports whether the local clock time of t falls inside the window.
// t must already be in the user's location.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.set {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	switch {
	case q.Start == q.End:
		return true
	case q.Start < q.End:
		return m >= q.Start && m < q.End
	default:
		return m >= q.Start || m < q.End
	}
}
