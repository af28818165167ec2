package doi

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultPollInterval = 3 * time.Second

// Poller re-checks a client's gate on a fixed interval until it opens.
type Poller struct {
	gate     *Gate
	interval time.Duration
	log      *zap.Logger
}

func NewPoller(gate *Gate, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{gate: gate, interval: interval, log: log}
}

// Wait blocks until the gate reports completion or ctx ends. It returns the
// last observed completion state; ctx ending is not an error.
func (p *Poller) Wait(ctx context.Context, client string) (bool, error) {
	done, err := p.gate.IsCompleted(ctx, client)
	if err != nil || done {
		return done, err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
			done, err := p.gate.IsCompleted(ctx, client)
			if err != nil {
				if ctx.Err() != nil {
					return false, nil
				}
				p.log.Warn("completion poll failed", zap.String("client", client), zap.Error(err))
				continue
			}
			if done {
				return true, nil
			}
		}
	}
}

// Watch runs Wait in the background and delivers the result once. The
// channel is closed after delivery; cancel ctx to stop early.
func (p *Poller) Watch(ctx context.Context, client string) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		done, _ := p.Wait(ctx, client)
		out <- done
	}()
	return out
}
