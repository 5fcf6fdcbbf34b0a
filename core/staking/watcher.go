package staking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron/v2"

	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// Watcher refreshes the position of one user on an interval. It replaces a
// UI polling loop; the callback receives every fresh snapshot.
type Watcher struct {
	scheduler gocron.Scheduler
	job       gocron.Job
	logger    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	// delivering is set while a callback runs, so Stop called from inside
	// a callback does not wait on its own job.
	delivering bool
}

// Watch starts refreshing user every interval, the first time immediately.
// onErr may be nil.
func (s *Service) Watch(user common.Address, interval time.Duration, onInfo func(*model.StakeInfo), onErr func(error)) (*Watcher, error) {
	if interval <= 0 {
		interval = s.config.RefreshInterval
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		scheduler: scheduler,
		logger:    s.logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	refresh := func() {
		info, err := s.GetStakeInfo(ctx, user)
		if !w.beginDelivery() {
			return
		}
		defer w.endDelivery()

		if err != nil {
			s.logger.Warn("stake refresh failed", "user", user, "error", err)
			if onErr != nil {
				onErr(err)
			}
			return
		}
		onInfo(info)
	}

	w.job, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(refresh),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("failed to schedule stake refresh: %w", err)
	}
	scheduler.Start()
	s.logger.Debug("watching stake", "user", user, "interval", interval)
	return w, nil
}

func (w *Watcher) beginDelivery() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.delivering = true
	return true
}

func (w *Watcher) endDelivery() {
	w.mu.Lock()
	w.delivering = false
	w.mu.Unlock()
}

// Stop ends the refresh. No callback starts after Stop returns; one that is
// already running is not waited for, so a callback may call Stop itself.
// Stop is safe to call more than once.
func (w *Watcher) Stop() error {
	w.cancel()

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	inCallback := w.delivering
	w.mu.Unlock()

	if err := w.scheduler.RemoveJob(w.job.ID()); err != nil {
		w.logger.Debug("refresh job already gone", "error", err)
	}
	if inCallback {
		// Shutdown waits for the running job, which is the caller.
		go func() {
			if err := w.scheduler.Shutdown(); err != nil {
				w.logger.Warn("failed to shutdown refresh scheduler", "error", err)
			}
		}()
		return nil
	}
	if err := w.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown refresh scheduler: %w", err)
	}
	return nil
}
