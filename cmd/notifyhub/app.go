package main

import (
	"context"
	"fmt"

	"github.com/franzego/notifyhub/internal/channels"
	"github.com/franzego/notifyhub/internal/config"
	"github.com/franzego/notifyhub/internal/delivery"
	"github.com/franzego/notifyhub/internal/events"
	"github.com/franzego/notifyhub/internal/metrics"
	"github.com/franzego/notifyhub/internal/notifier"
	"github.com/franzego/notifyhub/internal/preferences"
	"github.com/franzego/notifyhub/internal/queue"
	"github.com/franzego/notifyhub/internal/services"
	"github.com/franzego/notifyhub/internal/store"
	"github.com/franzego/notifyhub/internal/templates"
	"github.com/franzego/notifyhub/pkg/logger"
	redispkg "github.com/franzego/notifyhub/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds every wired component. Commands use the parts they need.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	redis      *redis.Client
	rabbit     *queue.RabbitMqClient
	metrics    *metrics.Metrics
	users      *services.UserServiceClient
	prefs      *preferences.Service
	templates  *templates.Engine
	channels   *channels.Registry
	queue      *delivery.Queue
	notifier   *notifier.Orchestrator
	dispatcher *events.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if cfg.Services.MockServices {
		log.Warn("running in mock mode, the user directory is simulated")
	}

	rdb, err := redispkg.InitRedis(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, redis: rdb, metrics: metrics.New()}
	breakers := a.metrics.BreakerListener()

	if cfg.RabbitMQ.URL != "" {
		a.rabbit, err = queue.NewRabbitMqClient(cfg.RabbitMQ, log)
		if err != nil {
			log.Warn("rabbitmq unavailable, failed jobs will not be published", zap.Error(err))
		} else if err := a.rabbit.SetUpExchangeAndQueue(); err != nil {
			a.rabbit.CloseConnection()
			a.rabbit = nil
			log.Warn("rabbitmq topology setup failed", zap.Error(err))
		} else {
			log.Info("rabbitmq connected", zap.String("exchange", cfg.RabbitMQ.Exchange))
		}
	}

	notifications := store.NewNotificationStore(rdb)
	a.users = services.NewUserServiceClient(cfg.Services.UserServiceURL, cfg.Services.MockServices, log, breakers)
	a.prefs = preferences.NewService(store.NewPreferenceStore(rdb), log)
	a.templates = templates.NewEngine(store.NewTemplateStore(rdb), log)
	if err := a.templates.Seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed templates: %w", err)
	}

	a.channels = channels.NewRegistry()
	ch := cfg.Channels
	a.channels.Register(channels.NewEmailSender(ch.Email, log, breakers), ch.Email.BatchPolicy)
	a.channels.Register(channels.NewSMSSender(ch.SMS, log, breakers), ch.SMS.BatchPolicy)
	a.channels.Register(channels.NewWhatsAppSender(ch.WhatsApp, log, breakers), ch.WhatsApp.BatchPolicy)
	a.channels.Register(channels.NewPushSender(ch.Push, log, breakers), ch.Push.BatchPolicy)
	a.channels.Register(channels.NewInAppSender(rdb, ch.InApp, log), ch.InApp.BatchPolicy)
	for channel, ok := range a.channels.Availability() {
		if !ok {
			log.Warn("channel not configured, sends will be simulated", zap.String("channel", string(channel)))
		}
	}

	opts := []delivery.Option{delivery.WithMetrics(a.metrics)}
	if a.rabbit != nil {
		opts = append(opts, delivery.WithFailureSink(a.rabbit))
	}
	a.queue = delivery.NewQueue(notifications, delivery.NewJobStore(rdb), a.channels, cfg.Delivery, log, opts...)
	a.notifier = notifier.NewOrchestrator(notifications, a.users, a.prefs, a.templates, a.queue, log, notifier.WithMetrics(a.metrics))
	a.dispatcher = events.NewDispatcher(a.notifier, a.metrics, log)
	return a, nil
}

func (a *app) close() {
	if a.rabbit != nil {
		a.rabbit.CloseConnection()
	}
	a.redis.Close()
	_ = a.logger.Sync()
}
