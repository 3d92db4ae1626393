// Package scheduler runs the periodic housekeeping jobs: the keep-alive
// self-ping that defeats platform idle spin-down, the daily activity
// report, and stale-conversation pruning.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	pingURL    string
	reportFunc func(ctx context.Context) error
	pruneFunc  func() int
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetPingURL enables the keep-alive self-ping against the given URL.
func (s *Scheduler) SetPingURL(url string) {
	s.pingURL = url
}

// SetReportFunction sets the daily report generator.
func (s *Scheduler) SetReportFunction(fn func(ctx context.Context) error) {
	s.reportFunc = fn
}

// SetPruneFunction sets the stale-conversation cleaner; it returns the
// number of records removed.
func (s *Scheduler) SetPruneFunction(fn func() int) {
	s.pruneFunc = fn
}

func (s *Scheduler) Start() error {
	if s.pingURL != "" {
		// Hosting keeps the instance warm only while traffic flows.
		if _, err := s.cron.AddFunc("@every 14m", func() {
			s.ping()
		}); err != nil {
			return fmt.Errorf("schedule ping: %w", err)
		}
	}

	if s.reportFunc != nil {
		// Daily at 21:00 UTC
		if _, err := s.cron.AddFunc("0 21 * * *", func() {
			log.Println("triggered daily report generation")
			if err := s.reportFunc(s.ctx); err != nil {
				log.Printf("daily report generation failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule report: %w", err)
		}
	}

	if s.pruneFunc != nil {
		if _, err := s.cron.AddFunc("30 3 * * *", func() {
			if n := s.pruneFunc(); n > 0 {
				log.Printf("pruned %d stale conversation records", n)
			}
		}); err != nil {
			return fmt.Errorf("schedule prune: %w", err)
		}
	}

	s.cron.Start()
	log.Println("scheduler started")
	return nil
}

func (s *Scheduler) ping() {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.pingURL, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("keep-alive ping failed: %v", err)
		return
	}
	_ = resp.Body.Close()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Println("scheduler stopped")
}
