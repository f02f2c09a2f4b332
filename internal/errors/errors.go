// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrMessageNotFound is a sentinel error
type ErrMessageNotFound struct {
	MessageID int
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message with ID %d not found", e.MessageID)
}

func NewMessageNotFound(id int) error {
	return &ErrMessageNotFound{MessageID: id}
}

// ErrRecipientNotFound is a sentinel error
type ErrRecipientNotFound struct {
	RecipientID int
}

func (e *ErrRecipientNotFound) Error() string {
	return fmt.Sprintf("recipient with ID %d not found", e.RecipientID)
}

func NewRecipientNotFound(id int) error {
	return &ErrRecipientNotFound{RecipientID: id}
}

// ErrInvalidCampaignState signals an operation attempted in the wrong
// campaign status (e.g. starting an already completed campaign).
type ErrInvalidCampaignState struct {
	CampaignID int
	Status     string
}

func (e *ErrInvalidCampaignState) Error() string {
	return fmt.Sprintf("campaign %d cannot be processed in status %q", e.CampaignID, e.Status)
}

func NewInvalidCampaignState(id int, status string) error {
	return &ErrInvalidCampaignState{CampaignID: id, Status: status}
}

// ErrQuotaExhausted is returned when a reservation would exceed the daily
// ceiling. Messages stay pending; this is recoverable.
type ErrQuotaExhausted struct {
	Current int
	Limit   int
}

func (e *ErrQuotaExhausted) Error() string {
	return fmt.Sprintf("daily quota exhausted: %d/%d messages sent", e.Current, e.Limit)
}

func NewQuotaExhausted(current, limit int) error {
	return &ErrQuotaExhausted{Current: current, Limit: limit}
}
