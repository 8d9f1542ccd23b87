// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"cookie-claim-system/config"
)

// Sweeper is anything with a periodic in-memory cleanup, such as the local
// benefit cache.
type Sweeper interface {
	Sweep() int
}

type Sweeps struct {
	Deadlines *DeadlineEngine
	Ledger    *Ledger
	Locks     *ClaimLocks
	Cache     Sweeper // optional
	Now       Clock
}

// StartScheduler registers every periodic sweep and starts the scheduler.
// Jobs run in singleton mode, so an overrunning run is skipped rather than
// stacked. Call Shutdown on the returned scheduler to stop.
func StartScheduler(ctx context.Context, sw Sweeps, cfg config.SchedulerConfig) (gocron.Scheduler, error) {
	if sw.Now == nil {
		sw.Now = UTCNow
	}
	logger := slog.Default().With("component", "scheduler")

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name string
		def  gocron.JobDefinition
		run  func() (int64, error)
	}{
		{"feedback-reminders", gocron.DurationJob(cfg.ReminderInterval), func() (int64, error) {
			n, err := sw.Deadlines.RunReminders(ctx)
			return int64(n), err
		}},
		{"feedback-enforcement", gocron.DurationJob(cfg.EnforcementInterval), func() (int64, error) {
			n, err := sw.Deadlines.RunEnforcement(ctx)
			return int64(n), err
		}},
		{"blacklist-expiry", gocron.DurationJob(cfg.BlacklistInterval), func() (int64, error) {
			return sw.Ledger.ClearExpiredBlacklists(ctx, sw.Now())
		}},
		{"claim-lock-gc", gocron.DurationJob(cfg.LockSweepInterval), func() (int64, error) {
			n := sw.Locks.Sweep()
			if sw.Cache != nil {
				n += sw.Cache.Sweep()
			}
			return int64(n), nil
		}},
		{"daily-reset", gocron.CronJob(cfg.DailyResetCron, false), func() (int64, error) {
			return sw.Ledger.ResetDailyCounters(ctx, sw.Now())
		}},
		{"weekly-reset", gocron.CronJob(cfg.WeeklyResetCron, false), func() (int64, error) {
			return sw.Ledger.ResetWeekly(ctx)
		}},
		{"monthly-reset", gocron.CronJob(cfg.MonthlyResetCron, false), func() (int64, error) {
			return sw.Ledger.ResetMonthly(ctx)
		}},
	}

	for _, j := range jobs {
		_, err := sched.NewJob(
			j.def,
			gocron.NewTask(func() {
				n, err := j.run()
				if err != nil {
					logger.Error("job failed", "job", j.name, "error", err)
					return
				}
				if n > 0 {
					logger.Info("job finished", "job", j.name, "affected", n)
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("register %s job: %w", j.name, err)
		}
	}

	sched.Start()
	logger.Info("scheduler started", "jobs", len(jobs))
	return sched, nil
}
