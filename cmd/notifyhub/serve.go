package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/franzego/notifyhub/internal/handlers"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		workersDone := make(chan struct{})
		go func() {
			defer close(workersDone)
			if withWorker {
				a.runWorkers(ctx)
			}
		}()
		err = a.serve(ctx)
		stop()
		<-workersDone
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the delivery worker and event consumers in this process")
}

func (a *app) router() *gin.Engine {
	if a.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	var broker handlers.BrokerStatus
	if a.rabbit != nil {
		broker = a.rabbit
	}
	ping := handlers.RedisPingFunc(func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	return handlers.NewRouter(handlers.RouterDeps{
		Notifications: handlers.NewNotificationHandler(a.notifier, a.logger),
		Admin:         handlers.NewAdminHandler(a.notifier, a.queue, a.channels, a.logger),
		Preferences:   handlers.NewPreferenceHandler(a.prefs, a.logger),
		Templates:     handlers.NewTemplateHandler(a.templates, a.logger),
		Health:        handlers.NewHealthHandler(ping, broker, a.users, a.channels, version),
		Metrics:       a.metrics,
		JWTSecret:     a.cfg.Auth.JWTSecret,
		Logger:        a.logger,
	})
}

func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	timeout := a.cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	a.logger.Info("server exited")
	return nil
}
