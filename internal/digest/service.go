package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"signalbridge/pkg/logx"
)

// Service runs the daily digest on a cron schedule. The job itself is
// injected so this stays a thin scheduling shell.
type Service struct {
	cron *cron.Cron
	log  logx.Logger
}

// New validates the schedule and registers the job. An invalid schedule
// is a startup error.
func New(schedule string, job func(ctx context.Context) error, log logx.Logger) (*Service, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := job(ctx); err != nil {
			log.Warn("digest run failed", logx.Err(err))
			return
		}
		log.Info("digest sent")
	})
	if err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", schedule, err)
	}
	return &Service{cron: c, log: log}, nil
}

func (s *Service) Start() { s.cron.Start() }

func (s *Service) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
