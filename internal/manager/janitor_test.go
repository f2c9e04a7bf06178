package manager_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mallardlabs/mallard/internal/manager"
	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/processor"
)

func TestParseCron(t *testing.T) {
	t.Parallel()

	valid := []string{
		"* * * * *",
		"*/15 * * * *",
		"0 3 * * 0",
		"@hourly",
		"@daily",
		"@every 30m",
		" 0 0 1 1 * ",
	}
	for _, expr := range valid {
		require.NoError(t, manager.ParseCron(expr), expr)
	}

	invalid := []string{
		"",
		"   ",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"@fortnightly",
		"not a cron",
	}
	for _, expr := range invalid {
		require.Error(t, manager.ParseCron(expr), expr)
	}
}

func TestNewJanitor(t *testing.T) {
	t.Parallel()

	m := manager.New(processor.NewRegistry())

	t.Run("ok", func(t *testing.T) {
		j, err := manager.NewJanitor(t.Context(), m, model.Retention{
			Cron:   "*/5 * * * *",
			MaxAge: "24h",
		})
		require.NoError(t, err)
		require.NoError(t, j.Shutdown())
	})

	cases := []struct {
		scenario string
		cfg      model.Retention
	}{
		{"bad_cron", model.Retention{Cron: "nope", MaxAge: "1h"}},
		{"bad_max_age", model.Retention{Cron: "* * * * *", MaxAge: "soon"}},
		{"zero_max_age", model.Retention{Cron: "* * * * *", MaxAge: "0s"}},
		{"negative_max_age", model.Retention{Cron: "* * * * *", MaxAge: "-1h"}},
	}
	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := manager.NewJanitor(t.Context(), m, tc.cfg)
			require.Error(t, err)
		})
	}
}
