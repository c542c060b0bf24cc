package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/tinglebot/weather-service/internal/adapter/memory"
	"github.com/tinglebot/weather-service/internal/app"
	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

type simulateOptions struct {
	days   int
	seed   uint64
	start  string
	tables string
}

func simulateCommand() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate <village>",
		Short: "Generate consecutive days of weather in memory and print them as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.Context(), cmd.OutOrStdout(), domain.Village(args[0]), opts)
		},
	}
	cmd.Flags().IntVar(&opts.days, "days", 7, "number of weather days to generate")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "random seed; equal seeds give equal output")
	cmd.Flags().StringVar(&opts.start, "start", "", "first day (RFC3339), defaults to the current period")
	cmd.Flags().StringVar(&opts.tables, "tables", "", "YAML tables, defaults to the embedded tables")
	return cmd
}

// simulate drives the real service over a memory store with a fake clock,
// marking each day posted so the next one is smoothed against it.
func simulate(ctx context.Context, w io.Writer, village domain.Village, opts simulateOptions) error {
	if opts.days < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", opts.days)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	if opts.start != "" {
		t, err := time.Parse(time.RFC3339, opts.start)
		if err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
		start = t
	}
	tables, err := app.Tables(&config.Config{TablesPath: opts.tables})
	if err != nil {
		return err
	}

	logger := slog.New(slog.DiscardHandler)
	metrics := observability.NewUnregisteredMetrics()
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	clock := clockwork.NewFakeClockAt(start)
	svc := weather.NewService(memory.New(), forecast.NewGenerator(tables, rng, logger, metrics), clock, logger, metrics)

	enc := json.NewEncoder(w)
	for range opts.days {
		rec, err := svc.GetCurrentWeather(ctx, village)
		if err != nil {
			return err
		}
		if err := svc.MarkAsPosted(ctx, village, &rec); err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
		clock.Advance(domain.PeriodLength)
	}
	return nil
}
