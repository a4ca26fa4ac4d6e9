package stats

import (
	"cmp"
	"context"
	"slices"
	"time"

	"token-reallocator/metrics"
	"token-reallocator/model"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog/log"
)

type reportKey struct {
	host     model.HostKey
	lineItem model.LineItemKey
}

// Collector accumulates feedback from any transport and periodically publishes it
// into a Holder as a fresh snapshot.
type Collector struct {
	holder    *Holder
	retention time.Duration
	latest    *xsync.Map[reportKey, model.FeedbackReport]
}

func NewCollector(holder *Holder, retention time.Duration) *Collector {
	return &Collector{
		holder:    holder,
		retention: retention,
		latest:    xsync.NewMap[reportKey, model.FeedbackReport](),
	}
}

// Add records reports, keeping only the most recent per (host, line item).
// Safe for concurrent use.
func (c *Collector) Add(reports ...model.FeedbackReport) int {
	accepted := 0
	for _, r := range reports {
		if r.Host == "" || r.LineItem == "" || r.TargetsMatched < 0 {
			log.Debug().Str("hostKey", string(r.Host)).Str("lineItemKey", string(r.LineItem)).Msg("collector: dropping invalid report")
			continue
		}
		stored := false
		c.latest.Compute(reportKey{host: r.Host, lineItem: r.LineItem}, func(old model.FeedbackReport, loaded bool) (model.FeedbackReport, xsync.ComputeOp) {
			if loaded && old.ReportedAt.After(r.ReportedAt) {
				return old, xsync.CancelOp
			}
			stored = true
			return r, xsync.UpdateOp
		})
		if stored {
			accepted++
		}
	}
	return accepted
}

// Refresh evicts expired reports and replaces the snapshot.
func (c *Collector) Refresh(now time.Time) *Snapshot {
	cutoff := now.Add(-c.retention)
	reports := make([]model.FeedbackReport, 0, c.latest.Size())
	c.latest.Range(func(k reportKey, r model.FeedbackReport) bool {
		if c.retention > 0 && r.ReportedAt.Before(cutoff) {
			c.latest.Delete(k)
			return true
		}
		reports = append(reports, r)
		return true
	})
	slices.SortFunc(reports, func(a, b model.FeedbackReport) int {
		if n := cmp.Compare(a.LineItem, b.LineItem); n != 0 {
			return n
		}
		return cmp.Compare(a.Host, b.Host)
	})
	snap := c.holder.Replace(reports, now)
	metrics.SnapshotReports.Set(float64(snap.Len()))
	log.Debug().Int("reports", snap.Len()).Msg("collector: snapshot replaced")
	return snap
}

// Run refreshes the snapshot every period until ctx is done.
func (c *Collector) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("collector: stopped")
			return
		case now := <-ticker.C:
			c.Refresh(now)
		}
	}
}
