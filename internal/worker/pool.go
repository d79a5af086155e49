// Package worker runs the unordered pool that drains the notification queue.
// There is no ordering guarantee across events; convergence is the job of the
// pipeline's integrity check and the canonical-record resolution.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/substation/internal/config"
	eventdomain "github.com/smallbiznis/substation/internal/event/domain"
)

type Pool struct {
	log     *zap.Logger
	billing *config.BillingConfigHolder
	queue   chan snowflake.ID
	count   int
	wg      sync.WaitGroup
}

func NewPool(holder *config.BillingConfigHolder, log *zap.Logger) *Pool {
	cfg := holder.Get()
	return &Pool{
		log:     log.Named("worker.pool"),
		billing: holder,
		queue:   make(chan snowflake.ID, cfg.QueueSize),
		count:   cfg.WorkerCount,
	}
}

// Enqueue hands a ledger row to the pool without blocking. A full queue
// returns false; the row stays in status new until the recovery sweep.
func (p *Pool) Enqueue(id snowflake.ID) bool {
	select {
	case p.queue <- id:
		return true
	default:
		return false
	}
}

func (p *Pool) work(ctx context.Context, events eventdomain.Service) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			// Processing is never cancelable; a picked-up event runs to
			// completion even during shutdown.
			if err := events.Process(context.Background(), id); err != nil {
				p.log.Error("event processing aborted",
					zap.Int64("ledger_id", int64(id)),
					zap.Error(err))
			}
		}
	}
}

func (p *Pool) sweep(ctx context.Context, events eventdomain.Service) {
	defer p.wg.Done()
	for {
		interval := time.Duration(p.billing.Get().RecoverySweepSeconds) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if _, err := events.RecoverStranded(context.Background()); err != nil {
				p.log.Error("recovery sweep failed", zap.Error(err))
			}
		}
	}
}

type RunParams struct {
	fx.In

	LC     fx.Lifecycle
	Pool   *Pool
	Events eventdomain.Service
}

// Run wires the pool into the application lifecycle: workers plus the
// recovery sweep start together and drain before shutdown completes.
func Run(p RunParams) {
	ctx, cancel := context.WithCancel(context.Background())

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for i := 0; i < p.Pool.count; i++ {
				p.Pool.wg.Add(1)
				go p.Pool.work(ctx, p.Events)
			}
			p.Pool.wg.Add(1)
			go p.Pool.sweep(ctx, p.Events)
			p.Pool.log.Info("worker pool started", zap.Int("workers", p.Pool.count))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				p.Pool.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

var Module = fx.Module("worker",
	fx.Provide(NewPool),
	fx.Provide(func(p *Pool) eventdomain.Queue { return p }),
	fx.Invoke(Run),
)
