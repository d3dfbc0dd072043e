// Package notify delivers challenge lifecycle notifications: violations,
// failures and passes. Delivery is best effort; callers log errors and move
// on.
package notify

import (
	"context"

	"go.uber.org/multierr"

	"challenge-core/internal/challenge"
	"challenge-core/internal/events"
	"challenge-core/internal/monitor"
)

// Payload is the body of every notification envelope.
type Payload struct {
	Account    challenge.Account     `json:"account"`
	Violation  *challenge.Violation  `json:"violation,omitempty"`
	Transition *challenge.Transition `json:"transition,omitempty"`
}

// Sink receives envelopes.
type Sink interface {
	Send(ctx context.Context, env events.Envelope) error
}

func violationEnvelope(acc challenge.Account, v challenge.Violation) events.Envelope {
	return events.Envelope{
		Type:      events.EventViolation,
		AccountID: acc.ID,
		At:        v.Timestamp,
		Data:      Payload{Account: acc, Violation: &v},
	}
}

func transitionEnvelope(e events.Event, acc challenge.Account, tr challenge.Transition) events.Envelope {
	return events.Envelope{
		Type:      e,
		AccountID: acc.ID,
		At:        tr.At,
		Data:      Payload{Account: acc, Transition: &tr},
	}
}

// SinkNotifier turns notifications into envelopes and hands them to a Sink
// synchronously.
type SinkNotifier struct {
	sink Sink
}

func NewSinkNotifier(sink Sink) *SinkNotifier {
	return &SinkNotifier{sink: sink}
}

func (n *SinkNotifier) ViolationDetected(ctx context.Context, acc challenge.Account, v challenge.Violation) error {
	return n.sink.Send(ctx, violationEnvelope(acc, v))
}

func (n *SinkNotifier) ChallengeFailed(ctx context.Context, acc challenge.Account, tr challenge.Transition) error {
	return n.sink.Send(ctx, transitionEnvelope(events.EventChallengeFailed, acc, tr))
}

func (n *SinkNotifier) TargetReached(ctx context.Context, acc challenge.Account, tr challenge.Transition) error {
	return n.sink.Send(ctx, transitionEnvelope(events.EventTargetReached, acc, tr))
}

// Multi calls every notifier in order. One failure does not stop the rest;
// the errors are combined.
type Multi []monitor.Notifier

func (m Multi) ViolationDetected(ctx context.Context, acc challenge.Account, v challenge.Violation) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.ViolationDetected(ctx, acc, v))
	}
	return err
}

func (m Multi) ChallengeFailed(ctx context.Context, acc challenge.Account, tr challenge.Transition) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.ChallengeFailed(ctx, acc, tr))
	}
	return err
}

func (m Multi) TargetReached(ctx context.Context, acc challenge.Account, tr challenge.Transition) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.TargetReached(ctx, acc, tr))
	}
	return err
}
