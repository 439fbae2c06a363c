package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/franzego/notifyhub/internal/delivery"
	"github.com/franzego/notifyhub/internal/events"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the delivery worker and the event consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		a.runWorkers(ctx)
		return nil
	},
}

// runWorkers blocks until ctx is cancelled and every loop has returned.
func (a *app) runWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				a.logger.Error("background loop exited", zap.String("loop", name), zap.Error(err))
			}
		}()
	}

	run("delivery", delivery.NewWorker(a.queue, a.cfg.Delivery, a.logger).Run)

	if a.rabbit != nil {
		run("rabbitmq", events.NewRabbitConsumer(a.rabbit, a.dispatcher).Run)
	}

	if a.cfg.Kafka.Enabled {
		kc := events.NewKafkaConsumer(a.cfg.Kafka, a.dispatcher, a.logger)
		defer kc.Close()
		run("kafka", kc.Run)
	}

	wg.Wait()
}
