package allocator

import (
	"errors"
	"math"
	"slices"

	"token-reallocator/model"
)

// ErrNoActiveHosts is returned when a share has to be averaged over zero hosts.
var ErrNoActiveHosts = errors.New("no active hosts to allocate against")

// Algorithm reallocates line item shares across hosts from feedback.
// It holds no state besides its tuning and is safe for concurrent use.
type Algorithm struct {
	// nonAdjustable is the fraction of a host's previous weight that feedback cannot move in one cycle.
	nonAdjustable float64
}

// NewAlgorithm returns an Algorithm; nonAdjustableSharePercent is clamped to [0,100].
func NewAlgorithm(nonAdjustableSharePercent float64) *Algorithm {
	p := math.Min(math.Max(nonAdjustableSharePercent, 0), 100)
	return &Algorithm{nonAdjustable: p / 100}
}

// Calculate produces one plan per active host holding a weight for every active line item.
// Inputs are never modified. Plans are ordered by host key and carry a zero UpdatedAt.
func (a *Algorithm) Calculate(
	feedback []model.FeedbackReport,
	previous []model.AllocationPlan,
	lineItems []model.LineItem,
	hosts []model.Host,
) ([]model.AllocationPlan, error) {
	hostKeys := uniqueHostKeys(hosts)
	if len(hostKeys) == 0 {
		return nil, ErrNoActiveHosts
	}
	activeHosts := make(map[model.HostKey]struct{}, len(hostKeys))
	for _, h := range hostKeys {
		activeHosts[h] = struct{}{}
	}
	activeLineItems := make(map[model.LineItemKey]struct{}, len(lineItems))
	for _, li := range lineItems {
		activeLineItems[li.Key()] = struct{}{}
	}

	reports := groupReports(feedback)
	prev := summarizePreviousPlans(previous, reports, activeLineItems, activeHosts)

	plans := make(map[model.HostKey]map[model.LineItemKey]model.Weight, len(hostKeys))
	for _, h := range hostKeys {
		plans[h] = make(map[model.LineItemKey]model.Weight, len(activeLineItems))
	}
	for li := range activeLineItems {
		shares, err := a.allocate(li, reports[li], prev, hostKeys, activeHosts)
		if err != nil {
			return nil, err
		}
		for h, scaled := range shares {
			plans[h][li] = model.NewWeight(scaled)
		}
	}

	out := make([]model.AllocationPlan, 0, len(hostKeys))
	for _, h := range hostKeys {
		out = append(out, model.AllocationPlan{Host: h, Weights: plans[h]})
	}
	return out, nil
}

func (a *Algorithm) allocate(
	li model.LineItemKey,
	reports []model.FeedbackReport,
	prev *previousWeights,
	hostKeys []model.HostKey,
	activeHosts map[model.HostKey]struct{},
) (map[model.HostKey]int64, error) {
	working := make(map[model.HostKey]int64, len(prev.byLineItem[li]))
	for h, w := range prev.byLineItem[li] {
		working[h] = w
	}
	if len(reports) == 0 {
		return allocateSharesForAllHosts(working, prev.totals[li], hostKeys, prev.hostsInPlan(li))
	}
	allocated := a.reweigh(working, prev.totals[li], summarizeFeedback(reports, prev.byLineItem[li], activeHosts))
	return allocateSharesForAllHosts(working, allocated, hostKeys, prev.hostsInPlan(li))
}

// reweigh blends each in-plan host's previous weight with its feedback-proportional
// part of the adjustable share, updating working and returning the weight allocated.
func (a *Algorithm) reweigh(working map[model.HostKey]int64, previousTotal int64, fb feedbackSummary) int64 {
	adjustableShare := math.Round((1 - a.nonAdjustable) * float64(previousTotal))
	var allocated int64
	for host, matched := range fb.matched {
		previous := working[host]
		next := previous
		if fb.totalMatched > 0 {
			next = int64(math.Round(a.nonAdjustable*float64(previous) + adjustableShare*float64(matched)/float64(fb.totalMatched)))
		}
		working[host] = next
		allocated += next
	}
	return allocated
}

// allocateSharesForAllHosts gives hosts new to this line item the average share and scales
// existing hosts together so the line item adds up to OneHundred.
func allocateSharesForAllHosts(working map[model.HostKey]int64, allocated int64, hostKeys []model.HostKey, hostsInPlan int) (map[model.HostKey]int64, error) {
	average, err := averageShare(len(hostKeys))
	if err != nil {
		return nil, err
	}
	newHosts := int64(len(hostKeys) - hostsInPlan)
	allocatable := model.OneHundred - newHosts*average - allocated

	var migrationRatio float64
	if allocated != 0 {
		migrationRatio = float64(allocatable) / float64(allocated)
	}

	shares := make(map[model.HostKey]int64, len(hostKeys))
	for _, h := range hostKeys {
		w, existing := working[h]
		if !existing {
			shares[h] = average
			continue
		}
		shares[h] = int64(math.Round(float64(w) * (1 + migrationRatio)))
	}
	return shares, nil
}

func averageShare(hostCount int) (int64, error) {
	if hostCount <= 0 {
		return 0, ErrNoActiveHosts
	}
	return int64(math.Round(float64(model.OneHundred) / float64(hostCount))), nil
}

func uniqueHostKeys(hosts []model.Host) []model.HostKey {
	keys := make([]model.HostKey, 0, len(hosts))
	for _, h := range hosts {
		keys = append(keys, h.Key())
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
