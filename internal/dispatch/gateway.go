// internal/dispatch/gateway.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayClient talks to a generic HTTP messaging gateway. The gateway accepts
// a JSON {to, content} and answers {message_id} or {error_code, error}.
type GatewayClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewGatewayClient(baseURL, token string) *GatewayClient {
	return &GatewayClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

type gatewaySendRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type gatewaySendResponse struct {
	MessageID string `json:"message_id"`
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}

func (c *GatewayClient) Send(ctx context.Context, to, content string) (string, error) {
	body, err := json.Marshal(gatewaySendRequest{To: to, Content: content})
	if err != nil {
		return "", &Error{Kind: KindPermanent, Reason: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindPermanent, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransient, Reason: err.Error()}
	}
	defer resp.Body.Close()

	var out gatewaySendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindTransient, Reason: fmt.Sprintf("bad gateway response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK && out.MessageID != "":
		return out.MessageID, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{Kind: KindRateLimited, Reason: out.Error}
	case resp.StatusCode >= 500:
		return "", &Error{Kind: KindTransient, Reason: out.Error}
	default:
		return "", classifyGatewayCode(out.ErrorCode, out.Error)
	}
}

// classifyGatewayCode maps the gateway's error codes onto the taxonomy.
func classifyGatewayCode(code, reason string) *Error {
	switch code {
	case "unregistered_recipient", "invalid_recipient":
		return &Error{Kind: KindUnregisteredRecipient, Reason: reason}
	case "rate_limited", "throttled":
		return &Error{Kind: KindRateLimited, Reason: reason}
	case "server_error", "timeout":
		return &Error{Kind: KindTransient, Reason: reason}
	default:
		return &Error{Kind: KindPermanent, Reason: reason}
	}
}
