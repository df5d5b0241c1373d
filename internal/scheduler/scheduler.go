// Package scheduler runs the periodic reward sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// UserLister enumerates ledger owners.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Rewarder credits accrued interest for one user.
type Rewarder interface {
	ApplyRewards(ctx context.Context, userID uuid.UUID) (uint64, error)
}

// Sweep applies rewards to every user on a cron schedule.
type Sweep struct {
	users    UserLister
	rewarder Rewarder
	log      *zap.Logger
	cron     *cron.Cron
}

// NewSweep constructs a sweep. Nothing runs until Start.
func NewSweep(users UserLister, rewarder Rewarder, log *zap.Logger) *Sweep {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweep{users: users, rewarder: rewarder, log: log}
}

// Start schedules RunOnce using a standard five-field cron spec or a
// descriptor such as "@hourly".
func (s *Sweep) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("reward sweep", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("reward schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweep) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce applies rewards for every user. A failure for one user does not stop
// the others; the failures are joined into the returned error.
func (s *Sweep) RunOnce(ctx context.Context) (users int, credited uint64, err error) {
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	var failed []error
	for _, id := range ids {
		if ctx.Err() != nil {
			failed = append(failed, ctx.Err())
			break
		}
		n, err := s.rewarder.ApplyRewards(ctx, id)
		if err != nil {
			failed = append(failed, fmt.Errorf("user %s: %w", id, err))
			continue
		}
		users++
		credited += n
	}
	s.log.Info("reward sweep",
		zap.Int("users", users),
		zap.Uint64("credited", credited),
		zap.Int("failed", len(failed)),
	)
	return users, credited, errors.Join(failed...)
}
