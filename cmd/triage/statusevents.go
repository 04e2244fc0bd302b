package main

import (
	"time"

	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/statusapi"
)

// statusEventFromProgress wraps a progress record for publication on the
// status hub, tagging it the way internal/statusapi.Event expects.
func statusEventFromProgress(sessionID string, rec model.ProgressRecord) statusapi.Event {
	return statusapi.Event{
		Kind:      "progress",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   rec,
	}
}
