package server

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const schedulerLockKey = "sched:lock:run"

// Scheduler triggers pipeline runs on a cron schedule. A Redis SetNX lock
// keeps multiple replicas from firing the same slot.
type Scheduler struct {
	Runner  Runner
	Rdb     *redis.Client
	Cron    string
	LockTTL time.Duration
	Jitter  time.Duration
	Logger  *log.Logger
	Stop    chan struct{}

	mu   sync.Mutex
	last time.Time
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if !isDue(s.Cron, last, now) {
		return
	}
	if s.Jitter > 0 {
		// Spread replicas out before they race for the lock.
		time.Sleep(time.Duration(rand.Int63n(int64(s.Jitter))))
	}

	ctx := context.Background()
	if s.Rdb != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		ok, err := s.Rdb.SetNX(ctx, schedulerLockKey, "1", ttl).Result()
		if err != nil {
			s.Logger.Printf("warn: scheduler lock: %v", err)
			return
		}
		if !ok {
			// Another replica took this slot.
			s.markFired(now)
			return
		}
	}
	s.markFired(now)

	go func() {
		report, err := s.Runner.Run(ctx)
		if err != nil {
			s.Logger.Printf("scheduled run failed: %v", err)
			return
		}
		s.Logger.Printf("scheduled run %s delivered %d article(s)", report.RunID, report.Counts.Delivered)
	}()
}

func (s *Scheduler) markFired(now time.Time) {
	s.mu.Lock()
	s.last = now
	s.mu.Unlock()
}

// isDue determines whether a schedule should fire now given the last firing.
// Supports "@daily", "@hourly", and standard cron expressions. A schedule
// that has never fired is due immediately.
func isDue(cronSpec string, last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	switch cronSpec {
	case "@daily":
		return now.Sub(last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @daily if invalid
			return now.Sub(last) >= 24*time.Hour
		}
		next := expr.Next(last)
		return !next.After(now)
	}
}
