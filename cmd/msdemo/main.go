// Command msdemo is a minimal standalone binary demonstrating the message
// store client: it connects, registers one handler for a "Greeting"
// message type, and polls a category until interrupted.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"messagestore/consumer"
	"messagestore/internal/applog"
	"messagestore/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("msdemo.exit", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadDemoConfig()

	storeCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	log := applog.New(storeCfg.LogLevel, storeCfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := ulid.Make().String()
	log = log.With("run_id", runID)

	metrics := store.NewMetrics(prometheus.DefaultRegisterer, "msdemo")
	client, err := store.NewClientWithMetrics(ctx, storeCfg, metrics, store.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	prometheus.DefaultRegisterer.MustRegister(store.NewPoolStatsCollector(client.Pool(), "msdemo"))

	log.Info("msdemo.connected", "host", storeCfg.Host, "database", storeCfg.Database, "schema", storeCfg.SchemaName)

	c, err := consumer.New(ctx, client, consumer.Config{
		Category:               cfg.Category,
		ConsumerID:             cfg.ConsumerID,
		BatchSize:              envInt64("MESSAGESTORE_DEMO_BATCH_SIZE", 10),
		PositionUpdateInterval: envInt64("MESSAGESTORE_DEMO_POSITION_UPDATE_INTERVAL", 100),
	}, consumer.WithLogger(log))
	if err != nil {
		return err
	}

	c.On("Greeting", func(ctx context.Context, msg store.Message) error {
		log.Info("msdemo.handled",
			"op", "Greeting",
			"stream", msg.StreamName,
			"global_position", msg.GlobalPosition,
			"outcome", "ok",
		)
		return nil
	})

	log.Info("msdemo.start", "category", cfg.Category, "consumer_id", cfg.ConsumerID, "position", c.CurrentPosition())

	err = c.Start(ctx)

	flushCtx, flushCancel := context.WithTimeout(context.Background(), storeCfg.CommandTimeout)
	defer flushCancel()
	if flushErr := c.FlushPosition(flushCtx); flushErr != nil {
		log.Error("msdemo.flush_failed", "err", flushErr)
	}

	log.Info("msdemo.stopped", "position", c.CurrentPosition())
	return err
}
