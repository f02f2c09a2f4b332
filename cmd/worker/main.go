// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/config"
	"github.com/komi12345/ChatbotFrance-sub000/internal/db"
	"github.com/komi12345/ChatbotFrance-sub000/internal/dispatch"
	"github.com/komi12345/ChatbotFrance-sub000/internal/kvstore"
	"github.com/komi12345/ChatbotFrance-sub000/internal/lock"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()
	cfg := config.Load()

	conn, err := db.Open(cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("amqp connection failed")
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	messageRepo := &repository.MessageRepository{DB: conn}

	kv := kvstore.New(conn)
	quotaTracker := quota.NewTracker(kv, cfg.DailyQuotaLimit, log)
	locks := lock.NewGuard(kv, cfg.LockTTL, log)

	var client dispatch.Client
	switch cfg.Provider {
	case "gateway":
		client = dispatch.NewGatewayClient(cfg.GatewayURL, cfg.GatewayToken)
	default:
		client = dispatch.NewMockClient()
	}

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		MessageRepo:   messageRepo,
		Queue:         q,
		Quota:         quotaTracker,
		SendTopic:     cfg.SendQueue,
		Log:           log,
	}

	worker := &service.DeliveryWorker{
		MessageRepo:    messageRepo,
		RecipientRepo:  recipientRepo,
		Campaigns:      campaignService,
		Dispatch:       client,
		Locks:          locks,
		Quota:          quotaTracker,
		Queue:          q,
		Pacer:          service.NewPacer(cfg.InterSendDelay, cfg.SendBatchSize, cfg.BatchPause),
		SendTopic:      cfg.SendQueue,
		MaxAttempts:    cfg.MaxSendAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		SendTimeout:    cfg.SendTimeout,
		Log:            log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// N subscriptions share the consumer channel; amqp distributes jobs
	// across them round-robin.
	for i := 0; i < cfg.WorkerCount; i++ {
		if err := worker.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("worker subscription failed")
		}
	}

	log.Info().Int("workers", cfg.WorkerCount).Str("provider", cfg.Provider).Msg("delivery workers running")
	<-ctx.Done()
	log.Info().Msg("shutting down")
}
