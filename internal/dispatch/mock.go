// internal/dispatch/mock.go
package dispatch

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
)

// MockClient simulates a provider for local development: 90% success, the
// rest split between transient errors and permanent rejections.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Send(ctx context.Context, to, content string) (string, error) {
	r := rand.Float64()
	switch {
	case r < 0.90:
		return "mock-" + uuid.NewString(), nil
	case r < 0.97:
		return "", &Error{Kind: KindTransient, Reason: "mock transient failure"}
	default:
		return "", &Error{Kind: KindUnregisteredRecipient, Reason: "mock recipient not on channel"}
	}
}
