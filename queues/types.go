package queues

import (
	"context"
	"errors"
	"fmt"
	"time"

	"token-reallocator/model"
)

var ErrInvalidMessage = errors.New("invalid feedback message")

// FeedbackReport is one line item's entry in a host's feedback batch.
type FeedbackReport struct {
	BidderCode     string `json:"bidderCode"`
	LineItemID     string `json:"lineItemId"`
	TargetsMatched int64  `json:"targetsMatched"`
}

// FeedbackBatch is the envelope a host sends at the end of a reporting window.
type FeedbackBatch struct {
	EnvelopeVersion string           `json:"envelopeVersion"`
	Type            string           `json:"type"`
	Vendor          string           `json:"vendor"`
	Region          string           `json:"region"`
	InstanceID      string           `json:"instanceId"`
	ReportedAt      time.Time        `json:"reportedAt"`
	LineItems       []FeedbackReport `json:"lineItems"`
}

func (b *FeedbackBatch) Host() model.Host {
	return model.Host{Vendor: b.Vendor, Region: b.Region, InstanceID: b.InstanceID}
}

// Validate rejects batches no host could have produced.
func (b *FeedbackBatch) Validate() error {
	if !b.Host().Valid() {
		return fmt.Errorf("%w: missing host identity", ErrInvalidMessage)
	}
	for i, li := range b.LineItems {
		if li.BidderCode == "" || li.LineItemID == "" {
			return fmt.Errorf("%w: line item %d missing identity", ErrInvalidMessage, i)
		}
		if li.TargetsMatched < 0 {
			return fmt.Errorf("%w: line item %d has negative targetsMatched", ErrInvalidMessage, i)
		}
	}
	return nil
}

// Reports converts the batch; a zero ReportedAt is replaced by receivedAt.
func (b *FeedbackBatch) Reports(receivedAt time.Time) []model.FeedbackReport {
	at := b.ReportedAt
	if at.IsZero() {
		at = receivedAt
	}
	host := b.Host().Key()
	out := make([]model.FeedbackReport, 0, len(b.LineItems))
	for _, li := range b.LineItems {
		out = append(out, model.FeedbackReport{
			Host:           host,
			LineItem:       model.LineItem{BidderCode: li.BidderCode, LineItemID: li.LineItemID}.Key(),
			TargetsMatched: li.TargetsMatched,
			ReportedAt:     at,
		})
	}
	return out
}

// PlanCommitted announces that a reallocation cycle's plans are readable.
type PlanCommitted struct {
	EnvelopeVersion string    `json:"envelopeVersion"`
	Type            string    `json:"type"`
	CycleID         string    `json:"cycleId"`
	Hosts           int       `json:"hosts"`
	LineItems       int       `json:"lineItems"`
	CommittedAt     time.Time `json:"committedAt"`
}

type FeedbackHandler func(context.Context, *FeedbackBatch) error

type Subscriber interface {
	Start(ctx context.Context, handler FeedbackHandler) error
}

type Publisher interface {
	PublishPlanCommitted(ctx context.Context, ev *PlanCommitted) error
}
