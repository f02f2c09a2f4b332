// cmd/server/main.go
package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/config"
	"github.com/komi12345/ChatbotFrance-sub000/internal/controller"
	"github.com/komi12345/ChatbotFrance-sub000/internal/db"
	"github.com/komi12345/ChatbotFrance-sub000/internal/kvstore"
	"github.com/komi12345/ChatbotFrance-sub000/internal/queue"
	"github.com/komi12345/ChatbotFrance-sub000/internal/quota"
	"github.com/komi12345/ChatbotFrance-sub000/internal/repository"
	"github.com/komi12345/ChatbotFrance-sub000/internal/service"
	"github.com/komi12345/ChatbotFrance-sub000/internal/webhook"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "server").Logger()
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

	reactor := &webhook.Reactor{
		CampaignRepo:    campaignRepo,
		MessageRepo:     messageRepo,
		RecipientRepo:   recipientRepo,
		InteractionRepo: interactionRepo,
		Queue:           q,
		SendTopic:       cfg.SendQueue,
		FollowUpDelay:   cfg.FollowUpDelay,
		Window:          cfg.FollowUpWindow,
		Log:             log,
	}
	processor := webhook.NewProcessor(reactor, cfg.WebhookBufferLen, cfg.WorkerCount, log)
	defer processor.Close()

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Quota:           quotaTracker,
	}
	webhookController := &controller.WebhookController{
		Processor: processor,
		Log:       log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/stop", campaignController.StopCampaign)
	r.Post("/campaigns/{id}/retry-failed", campaignController.RetryFailedMessages)
	r.Get("/campaigns/{id}/stats", campaignController.GetCampaignStats)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)
	r.Get("/quota", campaignController.GetQuota)
	r.Post("/webhooks/{provider}", webhookController.HandleProviderWebhook)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
