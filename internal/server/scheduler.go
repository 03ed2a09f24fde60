package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/gamepricer/config"
	"github.com/mohammad-safakhou/gamepricer/internal/pipeline"
)

const schedulerLockKey = "gamepricer:sched:lock"

// Scheduler fires a catalog refresh followed by a price run on the
// configured cron. A Redis lock keeps multiple instances from scraping the
// price site at the same time; without Redis the scheduler still works for
// a single instance.
type Scheduler struct {
	Pipe *pipeline.Pipeline
	Rdb  *redis.Client
	Cfg  config.SchedulerConfig

	stop    chan struct{}
	logger  *log.Logger
	lastRun *time.Time

	// gate is the server's run lock; a tick that cannot take it is skipped,
	// mirroring the 409 the API answers while a run is in flight.
	gate *sync.Mutex
}

func NewScheduler(pipe *pipeline.Pipeline, rdb *redis.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		Pipe:   pipe,
		Rdb:    rdb,
		Cfg:    cfg,
		stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Close() {
	close(s.stop)
}

func (s *Scheduler) tick() {
	if !isDue(s.Cfg.Cron, s.lastRun) {
		return
	}
	if s.gate != nil {
		if !s.gate.TryLock() {
			s.logger.Printf("a run is already in progress, skipping tick")
			return
		}
		defer s.gate.Unlock()
	}
	ctx := context.Background()

	if s.Rdb != nil {
		ttl := s.lockTTL()
		ok, err := s.Rdb.SetNX(ctx, schedulerLockKey, "1", ttl).Result()
		if err != nil {
			s.logger.Printf("lock unavailable, skipping tick: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, schedulerLockKey)
	}

	// jitter to avoid stampedes when several instances come up together
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	now := time.Now()
	s.lastRun = &now

	if n, err := s.Pipe.Refresh(ctx); err != nil {
		s.logger.Printf("scheduled refresh incomplete (%d games stored): %v", n, err)
	}
	sum, err := s.Pipe.Run(ctx, nil)
	if err != nil {
		s.logger.Printf("scheduled run incomplete: %v (summary %+v)", err, sum)
		return
	}
	s.logger.Printf("scheduled run finished: %+v", sum)
}

func (s *Scheduler) lockTTL() time.Duration {
	if d, err := time.ParseDuration(s.Cfg.LockTTL); err == nil && d > 0 {
		return d
	}
	return 30 * time.Minute
}

// isDue reports whether a run should fire now given the last run time.
// Supports "@daily", "@hourly" and standard cron expressions; an invalid
// expression degrades to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
