package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/observability"
)

type fakePush struct {
	notify.PushService
	res notify.SendResult
	err error
}

func (f *fakePush) SendToUser(context.Context, uuid.UUID, notify.Message) (notify.SendResult, error) {
	return f.res, f.err
}

func TestInstrumentPushCountsOutcomes(t *testing.T) {
	m := observability.NewMetrics()
	want := errors.New("store down")
	p := instrumentPush(&fakePush{res: notify.SendResult{Attempted: 4, Delivered: 2, Expired: 1, Failed: 1}, err: want}, m)

	res, err := p.SendToUser(context.Background(), uuid.New(), notify.Message{Title: "t"})
	if !errors.Is(err, want) || res.Delivered != 2 {
		t.Fatalf("SendToUser: %+v %v", res, err)
	}
	var sb strings.Builder
	_ = m.WritePrometheus(&sb)
	for _, line := range []string{
		`hb_push_sends_total{outcome="delivered"} 2`,
		`hb_push_sends_total{outcome="expired"} 1`,
		`hb_push_sends_total{outcome="failed"} 1`,
	} {
		if !strings.Contains(sb.String(), line) {
			t.Fatalf("missing %q in\n%s", line, sb.String())
		}
	}
}

func TestInstrumentPushWithoutMetrics(t *testing.T) {
	inner := &fakePush{}
	if got := instrumentPush(inner, nil); got != notify.PushService(inner) {
		t.Fatalf("expected the inner service back when metrics are off")
	}
}
