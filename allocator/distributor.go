package allocator

import (
	"math"
	"math/rand/v2"

	"token-reallocator/metrics"
	"token-reallocator/model"
)

// fractionEpsilon is the fractional remainder below which a share is treated as whole.
const fractionEpsilon = 1e-5

// Rand is the randomness the Distributor rounds with. Implementations shared
// between request goroutines must be safe for concurrent use.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Distributor converts a line item's raw token budget into one host's integer share.
type Distributor struct {
	rnd Rand
}

// NewDistributor returns a Distributor; a nil rnd uses the runtime's concurrency-safe source.
func NewDistributor(rnd Rand) *Distributor {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Distributor{rnd: rnd}
}

// Distribute returns this host's tokens for a line item. With no committed weight the budget is
// split evenly across active hosts, and with no active hosts it is returned unsplit.
// Fractions are rounded up with probability equal to the fraction.
func (d *Distributor) Distribute(planTokens int64, weight model.Weight, found bool, activeHostCount int) int64 {
	var share float64
	var source string
	switch {
	case found:
		share = float64(planTokens) * weight.Percent / 100
		source = "weight"
	case activeHostCount > 0:
		share = float64(planTokens) / float64(activeHostCount)
		source = "even_split"
	default:
		share = float64(planTokens)
		source = "unsplit"
	}
	tokens := d.round(share)
	metrics.TokensDistributed.WithLabelValues(source).Add(float64(tokens))
	return tokens
}

func (d *Distributor) round(share float64) int64 {
	whole := math.Floor(share)
	fraction := share - whole
	if fraction < fractionEpsilon {
		return int64(whole)
	}
	if d.rnd.Float64() < fraction {
		return int64(whole) + 1
	}
	return int64(whole)
}

// LineItemTokens is one line item's entry in a served host plan.
type LineItemTokens struct {
	LineItem model.LineItem
	Weight   model.Weight
	Weighted bool
	Tokens   int64
}

// ForPlan distributes every line item's budget for the host owning plan; plan may be nil
// for a host the reallocation engine has not seen yet.
func (d *Distributor) ForPlan(plan *model.AllocationPlan, lineItems []model.LineItem, activeHostCount int) []LineItemTokens {
	out := make([]LineItemTokens, 0, len(lineItems))
	for _, li := range lineItems {
		w, ok := plan.Weight(li.Key())
		out = append(out, LineItemTokens{
			LineItem: li,
			Weight:   w,
			Weighted: ok,
			Tokens:   d.Distribute(li.Tokens, w, ok, activeHostCount),
		})
	}
	return out
}
