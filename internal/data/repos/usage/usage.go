package usage

import (
	"fmt"
	"strconv"
	"time"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
)

// ErrAlreadyCompleted is returned when a once-only usage is recorded again.
var ErrAlreadyCompleted = fmt.Errorf("usage already completed: %w", apierr.ErrAlreadyCompleted)

// Enqueuer is the outbox as seen by the repositories.
type Enqueuer interface {
	Enqueue(dbc dbctx.Context, ev types.OutboxInput) (bool, error)
}

// Range bounds a usage listing; zero dates are open ends.
type Range struct {
	From civil.Date
	To   civil.Date
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// versionKey dedupes usage upserts by row version. The same program can be
// set, changed and set again on one day, and each of those must reach the
// legacy store.
func versionKey(entity types.EntityType, id string, updatedAt time.Time) string {
	return string(entity) + ":" + id + ":" + strconv.FormatInt(updatedAt.UnixNano(), 10)
}
