package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"token-reallocator/allocator"
	"token-reallocator/model"
	"token-reallocator/stats"
	"token-reallocator/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var (
	now   = time.Unix(1_700_000_000, 0).UTC()
	hostA = model.Host{Vendor: "aws", Region: "us-east-1", InstanceID: "a"}
	hostB = model.Host{Vendor: "aws", Region: "us-east-1", InstanceID: "b"}
	li1   = model.LineItem{BidderCode: "bidderX", LineItemID: "1", Status: model.LineItemStatusActive, Tokens: 50}
	li2   = model.LineItem{BidderCode: "bidderX", LineItemID: "2", Status: model.LineItemStatusActive, Tokens: 90}
)

type fixture struct {
	mem       *store.Memory
	holder    *stats.Holder
	collector *stats.Collector
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	holder := stats.NewHolder()
	collector := stats.NewCollector(holder, time.Minute)
	s := NewServer(Config{HostActiveWindow: 2 * time.Minute}, mem, collector, allocator.NewDistributor(fixedRand(0)))
	s.now = func() time.Time { return now }
	return &fixture{mem: mem, holder: holder, collector: collector, handler: Handler(s)}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRegisterHost(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"vendor":"aws","region":"us-east-1","instanceId":"a"}`, want: http.StatusNoContent},
		{name: "bad json", body: `{"vendor":`, want: http.StatusBadRequest},
		{name: "missing instance", body: `{"vendor":"aws","region":"us-east-1"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/v1/hosts", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status got=%#v want=%#v body=%s", rec.Code, tt.want, rec.Body.String())
			}
			hosts, err := f.mem.ActiveHosts(context.Background(), now.Add(-time.Minute))
			require.NoError(t, err)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, []model.Host{hostA}, hosts)
			} else {
				assert.Empty(t, hosts)
			}
		})
	}
}

func TestHostPlan(t *testing.T) {
	f := newFixture(t)
	f.mem.UpsertLineItems(li1, li2)
	f.mem.RegisterHost(hostB, now)
	require.NoError(t, f.mem.PersistPlans(context.Background(), []model.AllocationPlan{{
		Host:      hostA.Key(),
		Weights:   map[model.LineItemKey]model.Weight{li1.Key(): model.WeightFromPercent(40)},
		UpdatedAt: now.Add(-time.Minute),
	}}, 10))

	rec := f.do(http.MethodGet, "/api/v1/hosts/aws/us-east-1/a/plan", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		HostKey   string     `json:"hostKey"`
		UpdatedAt *time.Time `json:"updatedAt"`
		LineItems []struct {
			BidderCode string  `json:"bidderCode"`
			LineItemID string  `json:"lineItemId"`
			Weight     *string `json:"weight"`
			Tokens     int64   `json:"tokens"`
		} `json:"lineItems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(hostA.Key()), got.HostKey)
	require.NotNil(t, got.UpdatedAt)
	require.Len(t, got.LineItems, 2)

	assert.Equal(t, "1", got.LineItems[0].LineItemID)
	require.NotNil(t, got.LineItems[0].Weight)
	assert.Equal(t, "40", *got.LineItems[0].Weight)
	assert.Equal(t, int64(20), got.LineItems[0].Tokens)

	// li2 has no weight for this host; split evenly across hostA and hostB
	assert.Nil(t, got.LineItems[1].Weight)
	assert.Equal(t, int64(45), got.LineItems[1].Tokens)
}

func TestHostPlan_UnknownHostGetsEvenSplit(t *testing.T) {
	f := newFixture(t)
	f.mem.UpsertLineItems(li1)
	f.mem.RegisterHost(hostB, now)

	rec := f.do(http.MethodGet, "/api/v1/hosts/aws/us-east-1/a/plan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "updatedAt")
	assert.Contains(t, rec.Body.String(), `"tokens":25`)

	// the request itself is a heartbeat
	hosts, err := f.mem.ActiveHosts(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestPostFeedback(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		want        int
		wantReports int
	}{
		{
			name:        "accepted",
			body:        `{"vendor":"aws","region":"us-east-1","instanceId":"a","lineItems":[{"bidderCode":"bidderX","lineItemId":"1","targetsMatched":12}]}`,
			want:        http.StatusAccepted,
			wantReports: 1,
		},
		{name: "bad json", body: `[`, want: http.StatusBadRequest},
		{
			name: "negative count",
			body: `{"vendor":"aws","region":"us-east-1","instanceId":"a","lineItems":[{"bidderCode":"bidderX","lineItemId":"1","targetsMatched":-1}]}`,
			want: http.StatusBadRequest,
		},
		{name: "missing host", body: `{"lineItems":[]}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/v1/feedback", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status got=%#v want=%#v body=%s", rec.Code, tt.want, rec.Body.String())
			}
			snap := f.collector.Refresh(now)
			assert.Equal(t, tt.wantReports, snap.Len())
			if tt.wantReports > 0 {
				r := snap.Reports()[0]
				assert.Equal(t, hostA.Key(), r.Host)
				assert.Equal(t, li1.Key(), r.LineItem)
				assert.Equal(t, now, r.ReportedAt)
			}
		})
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/feedback", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
