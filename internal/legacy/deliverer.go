package legacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

// Deliverer is the outbox sink that replays relational writes onto the
// legacy store.
type Deliverer struct {
	writer *Writer
	log    *logger.Logger
}

var _ outbox.Sink = (*Deliverer)(nil)

func NewDeliverer(writer *Writer, baseLog *logger.Logger) *Deliverer {
	return &Deliverer{writer: writer, log: baseLog.With("component", "LegacyDeliverer")}
}

func (d *Deliverer) Deliver(ctx context.Context, ev *types.OutboxEvent) error {
	if ev == nil {
		return nil
	}
	if _, ok := d.writer.Schema().Table(ev.EntityType); !ok {
		return outbox.Permanent(fmt.Errorf("legacy: no table for entity %q", ev.EntityType))
	}

	var err error
	switch ev.EventType {
	case types.EventUpsert:
		var columns map[string]any
		if len(ev.Payload) > 0 {
			if jerr := json.Unmarshal(ev.Payload, &columns); jerr != nil {
				return outbox.Permanent(fmt.Errorf("legacy: decode payload: %w", jerr))
			}
		}
		_, err = d.writer.Upsert(ctx, ev.EntityType, ev.EntityID, columns)
	case types.EventDelete:
		err = d.writer.Delete(ctx, ev.EntityType, ev.EntityID)
	default:
		return outbox.Permanent(fmt.Errorf("legacy: unknown event type %q", ev.EventType))
	}
	return classify(err)
}

// classify marks errors that no retry can fix.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Permanent() {
		return outbox.Permanent(err)
	}
	if errors.Is(err, apierr.ErrInvalidArgument) {
		return outbox.Permanent(err)
	}
	return err
}
