package allocator

import (
	"math/rand/v2"
	"testing"

	"token-reallocator/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestDistributor_Distribute(t *testing.T) {
	tests := []struct {
		name        string
		planTokens  int64
		weight      model.Weight
		found       bool
		activeHosts int
		rnd         float64
		want        int64
	}{
		{name: "weight exact", planTokens: 100, weight: model.WeightFromPercent(25), found: true, activeHosts: 4, rnd: 0, want: 25},
		{name: "weight fraction rounds up", planTokens: 10, weight: model.WeightFromPercent(33.33), found: true, activeHosts: 3, rnd: 0.1, want: 4},
		{name: "weight fraction rounds down", planTokens: 10, weight: model.WeightFromPercent(33.33), found: true, activeHosts: 3, rnd: 0.9, want: 3},
		{name: "zero weight", planTokens: 10, weight: model.NewWeight(0), found: true, activeHosts: 3, rnd: 0, want: 0},
		{name: "even split fallback", planTokens: 100, found: false, activeHosts: 4, rnd: 0, want: 25},
		{name: "even split fraction", planTokens: 10, found: false, activeHosts: 4, rnd: 0.49, want: 3},
		{name: "no hosts unsplit", planTokens: 7, found: false, activeHosts: 0, rnd: 0, want: 7},
		{name: "zero budget", planTokens: 0, found: false, activeHosts: 4, rnd: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDistributor(fixedRand(tt.rnd))
			got := d.Distribute(tt.planTokens, tt.weight, tt.found, tt.activeHosts)
			if got != tt.want {
				t.Errorf("Distribute() got=%#v want=%#v", got, tt.want)
			}
		})
	}
}

func TestDistributor_EvenSplitNeedsNoRounding(t *testing.T) {
	d := NewDistributor(rand.New(rand.NewPCG(7, 11)))
	for i := 0; i < 1000; i++ {
		require.Equal(t, int64(25), d.Distribute(100, model.Weight{}, false, 4))
	}
}

func TestDistributor_Unbiased(t *testing.T) {
	d := NewDistributor(rand.New(rand.NewPCG(1, 2)))
	w := model.WeightFromPercent(33.33)
	const runs = 100_000
	var total int64
	for i := 0; i < runs; i++ {
		got := d.Distribute(10, w, true, 3)
		require.True(t, got == 3 || got == 4, "got %d", got)
		total += got
	}
	assert.InDelta(t, 3.333, float64(total)/runs, 0.01)
}

func TestDistributor_DefaultRand(t *testing.T) {
	d := NewDistributor(nil)
	got := d.Distribute(10, model.WeightFromPercent(50), true, 2)
	assert.Equal(t, int64(5), got)
}

func TestDistributor_ForPlan(t *testing.T) {
	d := NewDistributor(fixedRand(0))
	plan := &model.AllocationPlan{Host: hostA.Key(), Weights: map[model.LineItemKey]model.Weight{
		li1.Key(): model.WeightFromPercent(40),
	}}
	items := []model.LineItem{
		{BidderCode: li1.BidderCode, LineItemID: li1.LineItemID, Tokens: 50},
		{BidderCode: li2.BidderCode, LineItemID: li2.LineItemID, Tokens: 90},
	}

	got := d.ForPlan(plan, items, 3)
	require.Len(t, got, 2)
	assert.True(t, got[0].Weighted)
	assert.Equal(t, int64(20), got[0].Tokens)
	assert.False(t, got[1].Weighted)
	assert.Equal(t, int64(30), got[1].Tokens)

	unseen := d.ForPlan(nil, items, 3)
	assert.Equal(t, int64(17), unseen[0].Tokens) // 50/3 = 16.67, rnd 0 rounds up
}
