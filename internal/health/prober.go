package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prober periodically checks every configured provider so the tracker
// stays warm between on-demand health requests.
type Prober struct {
	checker  *Checker
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a background prober.
func NewProber(checker *Checker, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		checker:  checker,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic probe loop in a goroutine.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

// Stop signals the prober to stop and waits for it to finish.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)

	// Probe immediately on start.
	p.ProbeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProbeAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProbeAll checks every configured provider concurrently.
func (p *Prober) ProbeAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, provider := range p.checker.Providers() {
		g.Go(func() error {
			if _, err := p.checker.CheckProviderHealth(gctx, provider); err != nil {
				p.logger.Warn("health probe error",
					slog.String("provider", provider),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
