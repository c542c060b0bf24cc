package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/tinglebot/weather-service/internal/app"
	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/domain"
	"github.com/tinglebot/weather-service/internal/forecast"
	"github.com/tinglebot/weather-service/internal/observability"
	"github.com/tinglebot/weather-service/internal/weather"
)

func boundsCommand() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "bounds",
		Short: "Print the current and next weather periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}
			current, err := domain.CurrentPeriodBounds(now)
			if err != nil {
				return err
			}
			next, err := domain.NextPeriodBounds(now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]domain.Period{"current": current, "next": next})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339), defaults to now")
	return cmd
}

func currentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current <village>",
		Short: "Show (and generate if needed) a village's weather for the current period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *weather.Service) error {
				rec, err := svc.GetCurrentWeather(ctx, domain.Village(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func scheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <village> <special>",
		Short: "Guarantee a special weather for a village's next period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *weather.Service) error {
				res, err := svc.ScheduleSpecialWeather(ctx, domain.Village(args[0]), args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func tablesCommand() *cobra.Command {
	tables := &cobra.Command{
		Use:   "tables",
		Short: "Commands for the weather season tables",
	}

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the season tables and report unreachable or empty combinations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := app.Tables(&config.Config{TablesPath: file})
			if err != nil {
				return err
			}
			findings := t.Audit()
			out := cmd.OutOrStdout()
			for _, f := range findings {
				fmt.Fprintln(out, f.String())
			}
			if len(findings) > 0 {
				return fmt.Errorf("%d table findings", len(findings))
			}
			fmt.Fprintln(out, "tables ok")
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", os.Getenv("WEATHER_TABLES_PATH"), "YAML tables to check, defaults to the embedded tables")

	tables.AddCommand(validate)
	return tables
}

// withService opens the configured store and hands a weather service to fn.
func withService(cmd *cobra.Command, fn func(context.Context, *weather.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tables, err := app.Tables(cfg)
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Warn("close weather store", "error", err)
		}
	}()

	metrics := observability.NewUnregisteredMetrics()
	svc := weather.NewService(store, forecast.NewGenerator(tables, nil, logger, metrics), clockwork.NewRealClock(), logger, metrics)
	return fn(ctx, svc)
}
