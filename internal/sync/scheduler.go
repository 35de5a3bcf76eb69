package sync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-offline-core/internal/config"
	"pos-offline-core/internal/logger"
)

// passTimeout bounds one scheduled SyncAll.
const passTimeout = 5 * time.Minute

// Reconnector registers a callback for when the backend becomes reachable.
type Reconnector interface {
	OnReconnect(fn func())
}

type Scheduler struct {
	cfg        config.SchedulerConfig
	reconciler *Reconciler
	cron       *cron.Cron
	entryID    cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, reconciler *Reconciler) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		reconciler: reconciler,
		cron:       cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.cfg.Interval))

	id, err := s.cron.AddFunc(s.cfg.Interval, func() {
		s.triggerSync("schedule")
	})
	if err != nil {
		logger.Log.Error("Failed to schedule job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

// Every adds a maintenance job on the same cron. It only runs when the
// scheduler is enabled.
func (s *Scheduler) Every(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		logger.Log.Debug("Running maintenance job", zap.String("job", name))
		fn()
	})
	return err
}

// SyncOnReconnect runs a pass each time r reports the backend reachable.
func (s *Scheduler) SyncOnReconnect(r Reconnector) {
	r.OnReconnect(func() { s.triggerSync("reconnect") })
}

// Stop halts the schedule and waits for a running job.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) triggerSync(reason string) {
	if s.reconciler.Running() {
		logger.Log.Info("Sync already running, skipping", zap.String("trigger", reason))
		return
	}
	if s.reconciler.offline.IsOffline() {
		logger.Log.Debug("Offline, skipping sync", zap.String("trigger", reason))
		return
	}

	logger.Log.Info("Triggering sync", zap.String("trigger", reason))
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	if _, err := s.reconciler.SyncAll(ctx); err != nil {
		logger.Log.Error("Sync failed", zap.String("trigger", reason), zap.Error(err))
	}
}
