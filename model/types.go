package model

import (
	"math"
	"time"
)

const (
	// Ratio is the fixed-point scale applied to percentage weights.
	Ratio = 100_000
	// OneHundred is a line item's full budget in fixed-point form.
	OneHundred int64 = 100 * Ratio

	LineItemStatusActive = "active"
)

// HostKey identifies one serving host across the fleet.
type HostKey string

// LineItemKey identifies one line item across bidders.
type LineItemKey string

// Host is a serving application instance.
type Host struct {
	Vendor     string `json:"vendor" yaml:"vendor"`
	Region     string `json:"region" yaml:"region"`
	InstanceID string `json:"instanceId" yaml:"instanceId"`
}

func (h Host) Key() HostKey {
	return HostKey(h.Vendor + ":" + h.Region + ":" + h.InstanceID)
}

func (h Host) Valid() bool {
	return h.Vendor != "" && h.Region != "" && h.InstanceID != ""
}

// LineItem is a campaign entry with a raw class 1 token budget.
// The compact form used by reallocation only needs BidderCode and LineItemID.
type LineItem struct {
	BidderCode string    `json:"bidderCode" yaml:"bidderCode"`
	LineItemID string    `json:"lineItemId" yaml:"lineItemId"`
	Status     string    `json:"status" yaml:"status"`
	EndTime    time.Time `json:"endTime,omitempty" yaml:"endTime"`
	Tokens     int64     `json:"tokens" yaml:"tokens"`
}

func (l LineItem) Key() LineItemKey {
	return LineItemKey(l.BidderCode + "-" + l.LineItemID)
}

// FeedbackReport is one host's observation for one line item.
type FeedbackReport struct {
	Host           HostKey     `json:"hostKey"`
	LineItem       LineItemKey `json:"lineItemKey"`
	TargetsMatched int64       `json:"targetsMatched"`
	ReportedAt     time.Time   `json:"reportedAt"`
}

// Weight is a host's share of a line item budget in both percentage and fixed-point form.
type Weight struct {
	Percent float64 `json:"weight"`
	Scaled  int64   `json:"scaledWeight"`
}

func NewWeight(scaled int64) Weight {
	return Weight{Percent: float64(scaled) / Ratio, Scaled: scaled}
}

func WeightFromPercent(percent float64) Weight {
	return NewWeight(int64(math.Round(percent * Ratio)))
}

// AllocationPlan is one host's set of line item weights for a reallocation cycle.
type AllocationPlan struct {
	Host      HostKey                `json:"hostKey"`
	Weights   map[LineItemKey]Weight `json:"weights"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand plans across goroutines.
func (p AllocationPlan) Clone() AllocationPlan {
	out := AllocationPlan{Host: p.Host, UpdatedAt: p.UpdatedAt, Weights: make(map[LineItemKey]Weight, len(p.Weights))}
	for k, w := range p.Weights {
		out.Weights[k] = w
	}
	return out
}

// Weight returns the committed weight for the line item, if any.
func (p *AllocationPlan) Weight(key LineItemKey) (Weight, bool) {
	if p == nil {
		return Weight{}, false
	}
	w, ok := p.Weights[key]
	return w, ok
}
