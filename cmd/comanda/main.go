package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"comanda/internal/app/advisory"
	"comanda/internal/app/api"
	"comanda/internal/cashregister"
	"comanda/internal/common/db"
	"comanda/internal/common/logger"
	"comanda/internal/common/mq"
	"comanda/internal/config"
	"comanda/internal/events"
	"comanda/internal/inventory"
	"comanda/internal/orderflow"
	"comanda/internal/payment"
	"comanda/internal/store/postgres"
)

func main() {
	mode := flag.String("mode", "", "api | advisory-subscriber")
	port := flag.Int("port", 0, "api: http port (overrides HTTP_PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	lg := logger.New("bootstrap", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "api":
		if *port == 0 {
			*port = cfg.HTTPPort
		}
		lg.Info("service_started", map[string]any{"service": "api", "port": *port})
		if err := runAPI(ctx, cfg, *port); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "advisory-subscriber":
		lg.Info("service_started", map[string]any{"service": "advisory-subscriber"})
		if err := runAdvisory(ctx, cfg); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: api | advisory-subscriber")
		os.Exit(2)
	}
}

func runAPI(ctx context.Context, cfg config.App, port int) error {
	lvl := logger.ParseLevel(cfg.LogLevel)

	pool, err := db.Connect(ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	st := postgres.New(pool)
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	client, err := mq.Dial(cfg.Rabbit.Host, cfg.Rabbit.Port, cfg.Rabbit.User, cfg.Rabbit.Password)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer client.Close()
	if err := client.DeclareAll(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	bus := events.NewRabbitBus(client, "api")

	inv := inventory.New(st, logger.New("inventory", lvl), cfg.LowStockThreshold)
	orders := orderflow.New(st, inv, bus, logger.New("orderflow", lvl))
	register := cashregister.New(st, logger.New("cashregister", lvl))
	payments := payment.New(st, bus, logger.New("payment", lvl))

	return api.Run(ctx, port, api.Deps{
		Store:     st,
		Orders:    orders,
		Inventory: inv,
		Register:  register,
		Payments:  payments,
		Log:       logger.New("api", lvl),
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := client.Ping(); err != nil {
				return fmt.Errorf("rabbitmq: %w", err)
			}
			return nil
		},
	})
}

func runAdvisory(ctx context.Context, cfg config.App) error {
	client, err := mq.Dial(cfg.Rabbit.Host, cfg.Rabbit.Port, cfg.Rabbit.User, cfg.Rabbit.Password)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer client.Close()
	if err := client.DeclareAll(); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	return advisory.Run(ctx, client, logger.New("advisory", logger.ParseLevel(cfg.LogLevel)))
}
