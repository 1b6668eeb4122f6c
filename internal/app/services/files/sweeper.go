package files

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jtekt/approval-flow/pkg/logger"
)

// Sweeper periodically quarantines orphaned attachments.
type Sweeper struct {
	svc  *Service
	cron *cron.Cron
	log  *logger.Logger
}

// NewSweeper schedules the sweep with a cron spec, e.g. "0 3 * * *".
func NewSweeper(svc *Service, spec string, log *logger.Logger) (*Sweeper, error) {
	if log == nil {
		log = logger.NewDefault("file-sweeper")
	}
	s := &Sweeper{svc: svc, cron: cron.New(), log: log}
	_, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduling.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	moved, err := s.svc.QuarantineUnused(ctx)
	if err != nil {
		s.log.WithError(err).Warn("orphan sweep failed")
		return
	}
	s.log.WithField("quarantined", len(moved)).Info("orphan sweep finished")
}
