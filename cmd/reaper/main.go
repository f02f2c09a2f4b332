// cmd/reaper/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/config"
	"github.com/komi12345/ChatbotFrance-sub000/internal/db"
	"github.com/komi12345/ChatbotFrance-sub000/internal/kvstore"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/reaper"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "reaper").Logger()
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
	interactionRepo := &repository.InteractionRepository{DB: conn}

	kv := kvstore.New(conn)
	quotaTracker := quota.NewTracker(kv, cfg.DailyQuotaLimit, log)

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
		MessageRepo:   messageRepo,
		Queue:         q,
		Quota:         quotaTracker,
		SendTopic:     cfg.SendQueue,
		Log:           log,
	}

	sweeper := &reaper.Reaper{
		CampaignRepo:    campaignRepo,
		MessageRepo:     messageRepo,
		InteractionRepo: interactionRepo,
		Campaigns:       campaignService,
		KV:              kv,
		Window:          cfg.FollowUpWindow,
		CloseAfter:      2 * cfg.FollowUpWindow,
		StallIdle:       10 * time.Minute,
		Log:             log,
	}

	c := cron.New()
	if err := sweeper.Schedule(c); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule sweeps")
	}
	c.Start()
	defer c.Stop()

	// One recovery pass at boot heals anything that stalled while the reaper
	// itself was down.
	if err := sweeper.RecoverStalled(context.Background()); err != nil {
		log.Warn().Err(err).Msg("boot recovery sweep failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("reaper running")
	<-ctx.Done()
	log.Info().Msg("shutting down")
}
