package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
)

func at(hhmm string) time.Time {
	m, err := ParseClock(hhmm)
	if err != nil {
		panic(err)
	}
	return time.Date(2025, 6, 15, m/60, m%60, 0, 0, time.UTC)
}

func TestQuietHoursContains(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		clock      string
		want       bool
	}{
		{"wrapping late evening", "22:00", "06:00", "23:30", true},
		{"wrapping early morning", "22:00", "06:00", "02:00", true},
		{"wrapping midday", "22:00", "06:00", "12:00", false},
		{"wrapping end is exclusive", "22:00", "06:00", "06:00", false},
		{"wrapping start is inclusive", "22:00", "06:00", "22:00", true},
		{"same day window", "12:00", "14:00", "13:15", true},
		{"same day outside", "12:00", "14:00", "14:00", false},
		{"equal bounds cover the day", "09:00", "09:00", "17:45", true},
		{"disabled", "", "", "03:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := ParseQuietHours(tc.start, tc.end)
			if err != nil {
				t.Fatalf("ParseQuietHours: %v", err)
			}
			if got := q.Contains(at(tc.clock)); got != tc.want {
				t.Fatalf("Contains(%s): got %v want %v", tc.clock, got, tc.want)
			}
		})
	}
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "9", "24:00", "09:60", "9:5", "ab:cd"} {
		if _, err := ParseClock(raw); !errors.Is(err, apierr.ErrInvalidArgument) {
			t.Fatalf("ParseClock(%q): expected invalid argument, got %v", raw, err)
		}
	}
	if m, err := ParseClock("07:05"); err != nil || m != 425 {
		t.Fatalf("ParseClock(07:05): %d %v", m, err)
	}
	if _, err := ParseQuietHours("22:00", ""); err == nil {
		t.Fatalf("half-configured quiet hours should be rejected")
	}
}
