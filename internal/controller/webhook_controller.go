// internal/controller/webhook_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/komi12345/ChatbotFrance-sub000/internal/webhook"
)

// WebhookController normalizes inbound provider payloads and acknowledges
// immediately. Processing happens asynchronously; a provider never waits on
// (or learns about) downstream handling.
type WebhookController struct {
	Processor *webhook.Processor
	Log       zerolog.Logger
}

// providerPayload is the gateway's webhook envelope.
type providerPayload struct {
	Events []providerEvent `json:"events"`
}

type providerEvent struct {
	Type      string `json:"type"`   // "status", "message", "reaction"
	Status    string `json:"status"` // "delivered", "read"
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Text      string `json:"text"`
	MediaType string `json:"media_type"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

func (c *WebhookController) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	var payload providerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		// Still ack: a malformed body should not make the provider retry
		// forever. Log and move on.
		c.Log.Warn().Err(err).Msg("unparseable webhook payload")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	for _, pe := range payload.Events {
		ev, ok := normalize(pe)
		if !ok {
			c.Log.Debug().Str("type", pe.Type).Msg("skipping unrecognized webhook event")
			continue
		}
		c.Processor.Enqueue(ev)
	}
	w.WriteHeader(http.StatusAccepted)
}

// normalize maps the provider event onto the reactor's shape. Any message
// content qualifies as a reply: text, media, voice and documents all count.
func normalize(pe providerEvent) (webhook.Event, bool) {
	var ts time.Time
	if pe.Timestamp > 0 {
		ts = time.Unix(pe.Timestamp, 0)
	}

	switch pe.Type {
	case "status":
		return webhook.Event{
			Type:              webhook.EventStatus,
			Status:            pe.Status,
			ProviderMessageID: pe.MessageID,
			Timestamp:         ts,
		}, true
	case "message":
		payload := pe.Text
		if payload == "" && pe.MediaType != "" {
			payload = "[" + pe.MediaType + "]"
		}
		return webhook.Event{
			Type:           webhook.EventReply,
			RecipientPhone: pe.From,
			Payload:        payload,
			Timestamp:      ts,
		}, true
	case "reaction":
		return webhook.Event{
			Type:           webhook.EventReaction,
			RecipientPhone: pe.From,
			Payload:        pe.Text,
			Timestamp:      ts,
		}, true
	default:
		return webhook.Event{}, false
	}
}
