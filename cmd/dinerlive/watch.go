package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dinerlive/internal/api"
	"dinerlive/internal/app"
)

const shutdownTimeout = 10 * time.Second

// watchFunc opens a view on a and returns once it follows updates
type watchFunc func(ctx context.Context, a *app.App, logger zerolog.Logger, args []string) error

func newWatchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow realtime changes until interrupted",
	}

	cmd.AddCommand(
		watchCommand(opts, "product <menu-item-id>", "Follow one menu item", cobra.ExactArgs(1), watchProduct),
		watchCommand(opts, "combo <combo-id>", "Follow one combo and its deletion", cobra.ExactArgs(1), watchCombos),
		watchCommand(opts, "combos <combo-id>...", "Follow a list of combos", cobra.MinimumNArgs(1), watchCombos),
		watchCommand(opts, "order <public-id>", "Follow one order", cobra.ExactArgs(1), watchOrder),
		watchCommand(opts, "orders", "Follow every order", cobra.NoArgs, watchOrders),
		watchCommand(opts, "reservations", "Follow every reservation", cobra.NoArgs, watchReservations),
		watchCommand(opts, "tables <table-id>...", "Follow table statuses", cobra.MinimumNArgs(1), watchTables),
	)

	return cmd
}

func watchCommand(opts *rootOptions, use, short string, args cobra.PositionalArgs, run watchFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, args, run)
		},
	}
}

func runWatch(ctx context.Context, opts *rootOptions, args []string, run watchFunc) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := setupLogger(os.Stdout, cfg.LogLevel, opts.LogLevel)
	if err != nil {
		return err
	}
	logger.Info().
		Str("broker", cfg.Broker.URL).
		Str("api", cfg.APIBaseURL).
		Msg("starting dinerlive")

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	a.Start()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, a, logger, args)
	if runErr == nil {
		<-ctx.Done()
		logger.Info().Msg("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
	return runErr
}

func watchProduct(ctx context.Context, a *app.App, logger zerolog.Logger, args []string) error {
	id, err := parseIDs(args)
	if err != nil {
		return err
	}
	v, err := a.ProductDetail()
	if err != nil {
		return err
	}
	v.OnChange(func(item api.MenuItem) {
		logger.Info().Int64("id", item.ID).Str("name", item.Name).Float64("price", item.Price).Msg("product changed")
	})
	if err := v.Show(ctx, id[0]); err != nil {
		logger.Warn().Err(err).Msg("initial load failed, waiting for updates")
		return nil
	}
	item, _ := v.Current()
	logger.Info().Int64("id", item.ID).Str("name", item.Name).Float64("price", item.Price).Msg("product")
	return nil
}

func watchCombos(ctx context.Context, a *app.App, logger zerolog.Logger, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	combos := make([]api.Combo, 0, len(ids))
	for _, id := range ids {
		c, err := a.Client().GetCombo(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load combo %d: %w", id, err)
		}
		combos = append(combos, c)
	}

	v, err := a.ComboList()
	if err != nil {
		return err
	}
	v.OnChange(func(list []api.Combo) {
		logger.Info().Int("count", len(list)).Msg("combos changed")
	})
	v.Open(combos)
	return nil
}

func watchOrder(ctx context.Context, a *app.App, logger zerolog.Logger, args []string) error {
	v, err := a.OrderDetail()
	if err != nil {
		return err
	}
	v.OnChange(func(o api.Order) {
		logger.Info().Str("order", o.PublicID).Str("status", o.Status).Msg("order changed")
	})
	if err := v.Show(ctx, args[0]); err != nil {
		logger.Warn().Err(err).Msg("initial load failed, waiting for updates")
		return nil
	}
	o, _ := v.Current()
	logger.Info().Str("order", o.PublicID).Str("status", o.Status).Float64("total", o.Total).Msg("order")
	return nil
}

func watchOrders(_ context.Context, a *app.App, logger zerolog.Logger, _ []string) error {
	v, err := a.OrderList()
	if err != nil {
		return err
	}
	v.OnChange(func(o api.Order, all []api.Order) {
		logger.Info().Str("order", o.PublicID).Str("status", o.Status).Int("count", len(all)).Msg("order changed")
	})
	v.Open(nil)
	return nil
}

func watchReservations(_ context.Context, a *app.App, logger zerolog.Logger, _ []string) error {
	v, err := a.ReservationList()
	if err != nil {
		return err
	}
	v.OnChange(func(r api.Reservation, all []api.Reservation) {
		logger.Info().
			Str("reservation", r.PublicID).
			Str("status", r.Status).
			Int("partySize", r.PartySize).
			Int("count", len(all)).
			Msg("reservation changed")
	})
	v.Open(nil)
	return nil
}

func watchTables(ctx context.Context, a *app.App, logger zerolog.Logger, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	tables := make([]api.Table, 0, len(ids))
	for _, id := range ids {
		t, err := a.Client().GetTable(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load table %d: %w", id, err)
		}
		tables = append(tables, t)
	}

	v, err := a.TableBoard()
	if err != nil {
		return err
	}
	v.OnChange(func(t api.Table) {
		logger.Info().Int64("table", t.ID).Str("name", t.Name).Int64("status", t.StatusID).Msg("table changed")
	})
	v.Open(tables)
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
