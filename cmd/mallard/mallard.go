package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mallardlabs/mallard/internal/api"
	"github.com/mallardlabs/mallard/internal/history"
	"github.com/mallardlabs/mallard/internal/log"
	"github.com/mallardlabs/mallard/internal/manager"
	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/processor"
	"github.com/mallardlabs/mallard/internal/runner"
)

var (
	flagTypes       []string
	flagMinSeverity string
	flagTopN        int
)

func init() {
	analyzeCmd.Flags().StringSliceVar(&flagTypes, "types", []string{"lint"}, "analysis kinds to run (lint, static_analysis, basedpyright)")
	analyzeCmd.Flags().StringVar(&flagMinSeverity, "min-severity", "hint", "keep diagnostics at or above this severity")
	analyzeCmd.Flags().IntVar(&flagTopN, "top-n", 0, "keep at most N diagnostics per analyzer, 0 means all")
}

// newManager assembles the registry and manager from the loaded config.
func newManager(cmd *cobra.Command) (*manager.Manager, func(), error) {
	registry := processor.FromConfig(config.Tools, runner.New())
	m := manager.New(registry)

	cleanup := func() {}
	if path := model.Get(config.Service.HistoryDB); path != "" {
		journal, err := history.Open(cmd.Context(), path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening history journal: %w", err)
		}
		m = m.WithRecorder(journal)
		cleanup = func() {
			if err := journal.Close(); err != nil {
				slog.Error("closing history journal", "error", err)
			}
		}
	}
	return m, cleanup, nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(),
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)

	m, cleanup, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if retention := config.Service.Retention; retention != nil {
		janitor, err := manager.NewJanitor(ctx, m, *retention)
		if err != nil {
			return fmt.Errorf("initializing retention janitor: %w", err)
		}
		janitor.Start()
		defer func() {
			if err := janitor.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down janitor", "error", err)
			}
		}()
	}

	server := api.New(m, config.Service.Listen)
	if err := server.Run(ctx); err != nil {
		return err
	}
	m.Wait() // let in-flight jobs reach a terminal state
	return nil
}

func doAnalyze(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(),
		slog.String("cmd", "analyze"),
		slog.Int("pid", os.Getpid()),
	)

	code, err := readSource(args)
	if err != nil {
		return err
	}

	types := make([]model.JobType, 0, len(flagTypes))
	for _, s := range flagTypes {
		t, err := model.ParseJobType(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		types = append(types, t)
	}
	minSeverity, err := model.ParseSeverity(flagMinSeverity)
	if err != nil {
		return err
	}

	m, cleanup, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := m.Submit(ctx, code, types, model.FilterOptions{
		MinSeverity: minSeverity,
		TopN:        flagTopN,
	})
	if err != nil {
		return err
	}
	m.Wait()

	job, err := m.Get(id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("formatting diagnostics as JSON: %w", err)
	}
	if job.Status == model.StatusFailed {
		return fmt.Errorf("analysis failed: %s", job.Error)
	}
	return nil
}

func readSource(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(b), nil
}
