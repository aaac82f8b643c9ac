package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reaper is the part of the session manager the scheduler drives.
type Reaper interface {
	Reap(ctx context.Context, ttl time.Duration) []string
}

// SchedulerService runs periodic maintenance jobs.
type SchedulerService struct {
	cron *cron.Cron
	log  *zap.Logger
}

func NewScheduler(log *zap.Logger) *SchedulerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchedulerService{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{log}))),
		log:  log.Named("scheduler"),
	}
}

// AddReaper closes sessions idle for longer than ttl on every tick of spec
// (a six-field cron expression). A non-positive ttl adds nothing.
func (s *SchedulerService) AddReaper(spec string, ttl time.Duration, r Reaper) (cron.EntryID, error) {
	if ttl <= 0 {
		s.log.Info("idle session reaper disabled")
		return 0, nil
	}
	entryID, err := s.cron.AddFunc(spec, func() { s.reap(r, ttl) })
	if err != nil {
		return 0, fmt.Errorf("invalid reaper schedule %q: %w", spec, err)
	}
	s.log.Info("added idle session reaper", zap.Int("entry", int(entryID)), zap.String("spec", spec), zap.Duration("ttl", ttl))
	return entryID, nil
}

func (s *SchedulerService) reap(r Reaper, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if closed := r.Reap(ctx, ttl); len(closed) > 0 {
		s.log.Info("closed idle sessions", zap.Strings("session_ids", closed))
	}
}

func (s *SchedulerService) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop waits for running jobs to finish or ctx to end.
func (s *SchedulerService) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
