package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/config"
	"github.com/daran2/deliver-anything/internal/eventbus"
	"github.com/daran2/deliver-anything/internal/notification"
	"github.com/daran2/deliver-anything/internal/order"
	"github.com/daran2/deliver-anything/internal/stock"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	initLogger(cfg.LogLevel)

	bus, err := newBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bus init failed")
	}
	defer bus.Close()

	stockRepo, err := stock.NewRepository(cfg.StockDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("stock db init failed")
	}
	defer stockRepo.Close()
	if cfg.SeedOnStart {
		if err := stockRepo.Seed(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("stock seed failed")
		}
	}

	orderRepo, err := order.NewRepository(cfg.OrderDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("order db init failed")
	}
	defer orderRepo.Close()

	notifStore, err := notification.NewStore(cfg.NotificationDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("notification db init failed")
	}
	defer notifStore.Close()

	registry := notification.NewRegistry()
	notifier := notification.NewService(notifStore, registry)

	ledger := stock.NewLedger(stockRepo, cfg.LedgerRetries)
	dedup, err := eventbus.NewDedup(cfg.DedupSize)
	if err != nil {
		log.Fatal().Err(err).Msg("dedup init failed")
	}
	committed, err := eventbus.NewDedup(cfg.DedupSize)
	if err != nil {
		log.Fatal().Err(err).Msg("dedup init failed")
	}
	notified, err := eventbus.NewDedup(cfg.DedupSize)
	if err != nil {
		log.Fatal().Err(err).Msg("dedup init failed")
	}

	// handler registration happens once, before traffic
	stockSaga := stock.NewSagaHandler(ledger, bus, dedup, committed)
	if err := stockSaga.Register(bus); err != nil {
		log.Fatal().Err(err).Msg("stock saga registration failed")
	}
	orderSaga := order.NewSagaHandler(orderRepo, notifier, notified)
	if err := orderSaga.Register(bus); err != nil {
		log.Fatal().Err(err).Msg("order saga registration failed")
	}

	orderService := order.NewService(orderRepo, bus)

	mux := http.NewServeMux()
	order.NewHandler(orderService, bus).Mount(mux)
	stock.NewHandler(stockRepo, ledger).Mount(mux)
	notification.NewHandler(notifier, registry, cfg.StreamHeartbeat).Mount(mux)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: cors.AllowAll().Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("bus", cfg.BusDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}

func initLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func newBus(cfg config.Config) (eventbus.Bus, error) {
	if cfg.BusDriver == "rabbit" {
		return eventbus.NewRabbitBus(cfg.RabbitURL, cfg.RabbitExchange, cfg.ServiceName)
	}
	return eventbus.NewMemoryBus(cfg.BusBuffer), nil
}
