package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/mallardlabs/mallard/internal/model"
)

// Janitor periodically evicts old terminal jobs from the manager.
type Janitor struct {
	scheduler gocron.Scheduler
}

// NewJanitor validates the retention settings and schedules an eviction
// sweep. The returned janitor is idle until Start is called.
func NewJanitor(ctx context.Context, m *Manager, cfg model.Retention) (*Janitor, error) {
	if err := ParseCron(cfg.Cron); err != nil {
		return nil, fmt.Errorf("parsing retention.cron: %w", err)
	}
	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("parsing retention.max_age: %w", err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention.max_age must be positive, got %s", maxAge)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.CronJob(cfg.Cron, false),
		gocron.NewTask(func() {
			n := m.Evict(maxAge)
			if n > 0 {
				slog.InfoContext(ctx, "evicted old terminal jobs", "count", n, "max_age", maxAge.String())
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return &Janitor{scheduler: scheduler}, nil
}

func (j *Janitor) Start() {
	j.scheduler.Start()
}

func (j *Janitor) Shutdown() error {
	return j.scheduler.Shutdown()
}

// ParseCron parses a 5 field cron expression or an @macro,
// returns an error if it fails.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// macros / @every handled by ParseStandard
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser5.Parse(e)
	return err
}
