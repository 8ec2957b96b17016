package streak

import "github.com/yungbote/habitbridge-backend/internal/platform/civil"

type Result struct {
	Current int `json:"current_streak"`
	Longest int `json:"longest_streak"`
}

// Next advances a consecutive-day streak for activity on today.
// lastActive is nil when the user has never been active.
func Next(lastActive *civil.Date, current, longest int, today civil.Date) Result {
	if lastActive != nil && *lastActive == today {
		return Result{Current: current, Longest: longest}
	}
	if lastActive == nil {
		current = 1
	} else {
		switch gap := lastActive.DaysUntil(today); {
		case gap == 1:
			current++
		case gap > 1:
			current = 1
		default:
			// today is not after lastActive; leave current as-is
		}
	}
	if current > longest {
		longest = current
	}
	return Result{Current: current, Longest: longest}
}
