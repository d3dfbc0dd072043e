package events

import (
	"time"
)

// Event enumerates the topics published by the challenge core.
type Event string

const (
	EventMonitoringStarted Event = "monitoring.started"
	EventMonitoringStopped Event = "monitoring.stopped"
	EventViolation         Event = "violation.detected"
	EventChallengeFailed   Event = "challenge.failed"
	EventTargetReached     Event = "challenge.passed"
)

// All lists every topic, in a stable order.
var All = []Event{
	EventMonitoringStarted,
	EventMonitoringStopped,
	EventViolation,
	EventChallengeFailed,
	EventTargetReached,
}

// Envelope is the payload carried on the bus and streamed to websocket
// clients.
type Envelope struct {
	Type      Event     `json:"type"`
	AccountID string    `json:"account_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}
