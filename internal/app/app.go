// Package app wires the shared transport, the REST client and the views.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"dinerlive/internal/api"
	"dinerlive/internal/config"
	"dinerlive/internal/reconcile"
	"dinerlive/internal/transport"
	"dinerlive/internal/views"
)

type closer interface {
	Close()
}

// App owns the broker connection and every view opened through it
type App struct {
	cfg     *config.Config
	manager *transport.Manager
	client  *api.Client
	logger  zerolog.Logger

	mu      sync.Mutex
	views   []closer
	stopped bool
}

// New creates an App from cfg. Nothing connects until a view subscribes.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if _, err := reconcile.New[int64](cfg.Reconciliation, cfg.TrackerSize); err != nil {
		return nil, fmt.Errorf("invalid reconciliation: %w", err)
	}

	if cfg.IsBreakerEnabled() {
		logger.Info().
			Int("failureThreshold", cfg.CircuitBreaker.FailureThreshold).
			Int("recoveryTimeout", cfg.CircuitBreaker.RecoveryTimeout).
			Msg("circuit breaker enabled")
	} else {
		logger.Info().Msg("circuit breaker disabled")
	}

	return &App{
		cfg:     cfg,
		manager: transport.NewManager(cfg.Broker, logger),
		client:  api.NewClient(cfg, logger),
		logger:  logger,
	}, nil
}

// Start starts message dispatch
func (a *App) Start() {
	a.manager.Start()
	a.logger.Info().
		Str("broker", a.cfg.Broker.URL).
		Str("api", a.cfg.APIBaseURL).
		Str("reconciliation", a.cfg.Reconciliation).
		Msg("realtime client started")
}

// Stop closes every view and disconnects from the broker
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info().Msg("shutting down...")

	a.mu.Lock()
	opened := a.views
	a.views = nil
	a.stopped = true
	a.mu.Unlock()

	for _, v := range opened {
		v.Close()
	}

	if err := a.manager.Shutdown(ctx); err != nil {
		return fmt.Errorf("transport shutdown error: %w", err)
	}

	a.logger.Info().Msg("stopped")
	return nil
}

// Client returns the REST client
func (a *App) Client() *api.Client {
	return a.client
}

// Transport returns the shared connection manager
func (a *App) Transport() *transport.Manager {
	return a.manager
}

// ProductDetail opens a product view
func (a *App) ProductDetail() (*views.ProductDetail, error) {
	v, err := views.NewProductDetail(a.manager, a.client.GetMenuItem, a.options())
	if err != nil {
		return nil, err
	}
	return v, a.track(v)
}

// ComboList opens a combo list view
func (a *App) ComboList() (*views.ComboList, error) {
	v, err := views.NewComboList(a.manager, a.client.GetCombo, a.options())
	if err != nil {
		return nil, err
	}
	return v, a.track(v)
}

// OrderDetail opens a single order view
func (a *App) OrderDetail() (*views.OrderDetail, error) {
	v, err := views.NewOrderDetail(a.manager, a.client.GetOrder, a.options())
	if err != nil {
		return nil, err
	}
	return v, a.track(v)
}

// OrderList opens an order list view
func (a *App) OrderList() (*views.OrderList, error) {
	v, err := views.NewOrderList(a.manager, a.client.GetOrder, a.options())
	if err != nil {
		return nil, err
	}
	return v, a.track(v)
}

// ReservationList opens a reservation list view
func (a *App) ReservationList() (*views.ReservationList, error) {
	v, err := views.NewReservationList(a.manager, a.client.GetReservation, a.options())
	if err != nil {
		return nil, err
	}
	return v, a.track(v)
}

// TableBoard opens a table status view
func (a *App) TableBoard() (*views.TableBoard, error) {
	v := views.NewTableBoard(a.manager, a.options())
	return v, a.track(v)
}

func (a *App) options() views.Options {
	return views.Options{
		Logger:         a.logger,
		Reconciliation: a.cfg.Reconciliation,
		TrackerSize:    a.cfg.TrackerSize,
	}
}

func (a *App) track(v closer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return transport.ErrClosed
	}
	a.views = append(a.views, v)
	return nil
}
