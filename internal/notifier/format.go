package notifier

import (
	"fmt"
	"strings"

	"ticketd/internal/acquire"
)

// Text renders m for humans.
func Text(m Message) string {
	switch p := m.Payload.(type) {
	case acquire.StartedEvent:
		mode := "scheduled"
		if p.Manual {
			mode = "manual"
		}
		return fmt.Sprintf("⏱ %s run started for %s: %d × %s (trigger %s)", mode, who(p.Name, p.IdentityID), p.Count, p.Strategy, p.TriggerID)
	case acquire.CompletedEvent:
		var b strings.Builder
		fmt.Fprintf(&b, "📋 run finished for %s: %d/%d successful", who(p.Name, p.IdentityID), p.SuccessfulAttempts, p.TotalAttempts)
		for _, s := range p.Summary {
			fmt.Fprintf(&b, "\n- %d %s", s.Code, s.Message)
		}
		return b.String()
	case acquire.SucceededEvent:
		return fmt.Sprintf("✅ ticket claimed for %s: %s", who(p.Name, p.IdentityID), strings.Join(p.Tickets, ", "))
	case acquire.FailedEvent:
		return fmt.Sprintf("❌ no ticket for %s (codes %v)", who(p.Name, p.IdentityID), p.Codes)
	case acquire.DeactivatedEvent:
		return fmt.Sprintf("⏸ trigger %s deactivated", p.TriggerID)
	case acquire.ErrorEvent:
		return fmt.Sprintf("🚨 trigger %s failed: %s", p.TriggerID, p.Error)
	default:
		return fmt.Sprintf("%s: %v", m.Event, m.Payload)
	}
}

func who(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("identity %d", id)
}
