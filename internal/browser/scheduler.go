package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/types"
)

// scheduler triggers Pool.Recycle on a fixed period or a cron schedule.
type scheduler struct {
	cron   *cron.Cron
	ticker *time.Ticker
}

// startScheduler starts periodic recycling. The cron expression wins over
// the interval when both are set; neither set means no scheduler.
func (p *Pool) startScheduler() error {
	var s *scheduler
	switch {
	case p.opts.RecycleCron != "":
		c := cron.New()
		if _, err := c.AddFunc(p.opts.RecycleCron, p.scheduledRecycle); err != nil {
			return fmt.Errorf("invalid recycle schedule %q: %w", p.opts.RecycleCron, err)
		}
		s = &scheduler{cron: c}
	case p.opts.RecycleInterval > 0:
		s = &scheduler{ticker: time.NewTicker(p.opts.RecycleInterval)}
	default:
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		return types.ErrPoolClosed
	}
	p.scheduler = s
	if s.cron != nil {
		s.cron.Start()
		p.mu.Unlock()
		log.Info().Str("cron", p.opts.RecycleCron).Msg("Recycle scheduler started")
		return nil
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				p.scheduledRecycle()
			case <-p.stopCh:
				return
			}
		}
	}()

	log.Info().Dur("interval", p.opts.RecycleInterval).Msg("Recycle scheduler started")
	return nil
}

// stopScheduler stops the timer and waits for a running cron job.
// stopCh must already be closed so an in-progress rebuild can return.
func (p *Pool) stopScheduler() {
	p.mu.Lock()
	s := p.scheduler
	p.scheduler = nil
	p.mu.Unlock()

	if s == nil {
		return
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Debug().Msg("Recycle scheduler stopped")
}

// scheduledRecycle runs one recycle from the scheduler. Failures leave the
// pool empty until the next tick.
func (p *Pool) scheduledRecycle() {
	err := p.Recycle(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, types.ErrRecycleInProgress):
		log.Debug().Msg("Skipping scheduled recycle, previous one still running")
	case errors.Is(err, types.ErrPoolClosed), errors.Is(err, context.Canceled):
		log.Debug().Msg("Scheduled recycle stopped by shutdown")
	default:
		log.Error().Err(err).Msg("Scheduled recycle failed, pool stays empty until the next attempt")
	}
}
