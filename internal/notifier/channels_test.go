package notifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"ticketd/internal/acquire"
)

type textRecorder struct{ texts []string }

func (r *textRecorder) SendText(_ context.Context, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func TestTelegramChannelRendersText(t *testing.T) {
	t.Parallel()

	rec := &textRecorder{}
	ch := NewTelegramChannel(rec)
	err := ch.Deliver(context.Background(), Message{Event: acquire.EventDeactivated, Payload: acquire.DeactivatedEvent{TriggerID: "t1"}})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(rec.texts) != 1 || !strings.Contains(rec.texts[0], "trigger t1 deactivated") {
		t.Fatalf("texts=%q", rec.texts)
	}
}

func TestCounterKey(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 4, 23, 30, 0, 0, time.FixedZone("PET", -5*3600))
	if got := counterKey("ticketd:events", acquire.EventSucceeded, at); got != "ticketd:events:count:schedule.succeeded:20250305" {
		t.Fatalf("key=%q", got)
	}
	if c := NewRedisChannel(nil, ""); c.channel != DefaultRedisChannel || c.Name() != "redis" {
		t.Fatalf("channel=%+v", c)
	}
}
