package admonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the polling period.
const DefaultInterval = time.Second

// ProbeFunc runs one DOM check.
type ProbeFunc func(ctx context.Context) (Probe, error)

// Poller calls a ProbeFunc on a fixed interval and hands each successful
// probe to deliver. Failed probes are skipped.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartPoller begins polling until ctx ends or Stop is called.
func StartPoller(ctx context.Context, interval time.Duration, probe ProbeFunc, deliver func(Probe)) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := probe(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Debug("ad probe failed", "error", err)
					}
					continue
				}
				deliver(result)
			}
		}
	}()
	return p
}

// Stop halts polling and waits for the polling goroutine to exit. It is safe
// to call more than once.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.once.Do(p.cancel)
	<-p.done
}
