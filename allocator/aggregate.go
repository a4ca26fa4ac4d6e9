package allocator

import (
	"math"

	"token-reallocator/model"
)

// previousWeights folds the previous cycle's plans into per line item, per host
// fixed-point weights. Only entries for active line items and active hosts survive.
type previousWeights struct {
	byLineItem map[model.LineItemKey]map[model.HostKey]int64
	totals     map[model.LineItemKey]int64
}

// hostsInPlan is the number of hosts holding a (real or synthetic) previous share.
func (p *previousWeights) hostsInPlan(li model.LineItemKey) int {
	return len(p.byLineItem[li])
}

func (p *previousWeights) add(li model.LineItemKey, host model.HostKey, scaled int64) {
	hosts, ok := p.byLineItem[li]
	if !ok {
		hosts = make(map[model.HostKey]int64)
		p.byLineItem[li] = hosts
	}
	hosts[host] = scaled
	p.totals[li] += scaled
}

func summarizePreviousPlans(
	plans []model.AllocationPlan,
	reportsByLineItem map[model.LineItemKey][]model.FeedbackReport,
	activeLineItems map[model.LineItemKey]struct{},
	activeHosts map[model.HostKey]struct{},
) *previousWeights {
	prev := &previousWeights{
		byLineItem: make(map[model.LineItemKey]map[model.HostKey]int64),
		totals:     make(map[model.LineItemKey]int64),
	}
	for _, plan := range plans {
		if _, ok := activeHosts[plan.Host]; !ok {
			continue
		}
		for li, w := range plan.Weights {
			if _, ok := activeLineItems[li]; !ok {
				continue
			}
			prev.add(li, plan.Host, w.Scaled)
		}
	}

	// A line item seen only through feedback gets an even synthetic baseline
	// across its reporting hosts so it still has something to blend from.
	for li := range activeLineItems {
		if prev.hostsInPlan(li) > 0 {
			continue
		}
		reporters := make(map[model.HostKey]struct{})
		for _, r := range reportsByLineItem[li] {
			if _, ok := activeHosts[r.Host]; ok {
				reporters[r.Host] = struct{}{}
			}
		}
		if len(reporters) == 0 {
			continue
		}
		share := int64(math.Round(float64(model.OneHundred) / float64(len(reporters))))
		for host := range reporters {
			prev.add(li, host, share)
		}
	}
	return prev
}

// feedbackSummary holds the targets matched per in-plan host for one line item.
type feedbackSummary struct {
	matched      map[model.HostKey]int64
	totalMatched int64
}

// summarizeFeedback sums targets matched across the hosts in the previous plan.
// In-plan hosts that did not report are credited with the average of those that did.
func summarizeFeedback(reports []model.FeedbackReport, inPlan map[model.HostKey]int64, activeHosts map[model.HostKey]struct{}) feedbackSummary {
	summary := feedbackSummary{matched: make(map[model.HostKey]int64, len(inPlan))}
	for _, r := range reports {
		if _, ok := activeHosts[r.Host]; !ok {
			continue
		}
		if _, ok := inPlan[r.Host]; !ok {
			continue
		}
		if _, dup := summary.matched[r.Host]; dup {
			continue
		}
		summary.matched[r.Host] = r.TargetsMatched
		summary.totalMatched += r.TargetsMatched
	}

	var average int64
	if reported := len(summary.matched); reported > 0 {
		average = int64(math.Round(float64(summary.totalMatched) / float64(reported)))
	}
	for host := range inPlan {
		if _, ok := summary.matched[host]; ok {
			continue
		}
		summary.matched[host] = average
		summary.totalMatched += average
	}
	return summary
}

func groupReports(reports []model.FeedbackReport) map[model.LineItemKey][]model.FeedbackReport {
	out := make(map[model.LineItemKey][]model.FeedbackReport)
	for _, r := range reports {
		out[r.LineItem] = append(out[r.LineItem], r)
	}
	return out
}
