// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is wrapped by every lookup miss.
var ErrNotFound = errors.New("not found")

// ErrCampaignNotFound is returned when the campaign does not exist
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Unwrap() error { return ErrNotFound }

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCampaignNotOwned is returned when the caller does not own the campaign.
type ErrCampaignNotOwned struct {
	CampaignID string
	OwnerID    string
}

func (e *ErrCampaignNotOwned) Error() string {
	return fmt.Sprintf("campaign %s is not owned by %s", e.CampaignID, e.OwnerID)
}

// ErrInvalidCampaignState is returned when an operation does not apply to
// the campaign's current status.
type ErrInvalidCampaignState struct {
	CampaignID string
	Status     string
	Operation  string
}

func (e *ErrInvalidCampaignState) Error() string {
	return fmt.Sprintf("cannot %s campaign %s in status %s", e.Operation, e.CampaignID, e.Status)
}

// ErrNoEligibleRecipients aborts scheduling when nothing can be queued.
type ErrNoEligibleRecipients struct {
	CampaignID string
	Reason     string
}

func (e *ErrNoEligibleRecipients) Error() string {
	return fmt.Sprintf("campaign %s has no eligible recipients: %s", e.CampaignID, e.Reason)
}

// ErrNoEnabledTemplates aborts scheduling when stage 1 is missing or disabled.
type ErrNoEnabledTemplates struct {
	CampaignID string
}

func (e *ErrNoEnabledTemplates) Error() string {
	return fmt.Sprintf("campaign %s has no enabled stage 1 template", e.CampaignID)
}

type ErrTaskNotFound struct {
	TaskID string
}

func (e *ErrTaskNotFound) Error() string {
	return fmt.Sprintf("email task %s not found", e.TaskID)
}

func (e *ErrTaskNotFound) Unwrap() error { return ErrNotFound }

type ErrDeadLetterNotFound struct {
	ID string
}

func (e *ErrDeadLetterNotFound) Error() string {
	return fmt.Sprintf("dead letter %s not found", e.ID)
}

func (e *ErrDeadLetterNotFound) Unwrap() error { return ErrNotFound }

// HTTPStatus maps a domain error to the status code the API returns.
func HTTPStatus(err error) int {
	var (
		notOwned   *ErrCampaignNotOwned
		badState   *ErrInvalidCampaignState
		noRecips   *ErrNoEligibleRecipients
		noTemplate *ErrNoEnabledTemplates
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &notOwned):
		return http.StatusForbidden
	case errors.As(err, &badState):
		return http.StatusConflict
	case errors.As(err, &noRecips), errors.As(err, &noTemplate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
