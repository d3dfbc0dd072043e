package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"challenge-core/internal/events"
)

// Relay forwards bus envelopes to a Sink off the monitoring path, so a slow
// broker never holds up a poll cycle.
type Relay struct {
	Bus     *events.Bus
	Sink    Sink
	Topics  []events.Event
	Buffer  int
	Timeout time.Duration
	Logger  *zap.Logger
}

// Run drains the subscription until ctx is done. It returns immediately when
// the relay is not fully configured.
func (r *Relay) Run(ctx context.Context) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if r.Bus == nil || r.Sink == nil {
		log.Warn("relay not fully configured; skipping")
		return
	}
	buffer := r.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	stream, unsub := r.Bus.Subscribe(buffer, r.Topics...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			if err := r.Sink.Send(sctx, env); err != nil {
				log.Warn("relay send failed", zap.String("type", string(env.Type)),
					zap.String("account_id", env.AccountID), zap.Error(err))
			}
			cancel()
		}
	}
}
