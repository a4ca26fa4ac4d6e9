package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"token-reallocator/allocator"
	"token-reallocator/metrics"
	"token-reallocator/model"
	"token-reallocator/queues"
	"token-reallocator/store"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Registry is the host and plan state the API reads and heartbeats into.
type Registry interface {
	RegisterHost(host model.Host, seenAt time.Time)
	PlanForHost(host model.HostKey) (model.AllocationPlan, error)
	ActiveHosts(ctx context.Context, activeSince time.Time) ([]model.Host, error)
	ActiveLineItems(ctx context.Context, status string, notExpiredBefore time.Time) ([]model.LineItem, error)
}

type FeedbackSink interface {
	Add(reports ...model.FeedbackReport) int
}

type Config struct {
	HostActiveWindow time.Duration
	ExpiryHorizon    time.Duration
}

type Server struct {
	cfg         Config
	registry    Registry
	feedback    FeedbackSink
	distributor *allocator.Distributor
	now         func() time.Time
}

func NewServer(cfg Config, registry Registry, feedback FeedbackSink, d *allocator.Distributor) *Server {
	return &Server{cfg: cfg, registry: registry, feedback: feedback, distributor: d, now: time.Now}
}

type lineItemPlan struct {
	BidderCode string           `json:"bidderCode"`
	LineItemID string           `json:"lineItemId"`
	Weight     *decimal.Decimal `json:"weight,omitempty"`
	Tokens     int64            `json:"tokens"`
}

type planResponse struct {
	Host      model.HostKey  `json:"hostKey"`
	UpdatedAt *time.Time     `json:"updatedAt,omitempty"`
	LineItems []lineItemPlan `json:"lineItems"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) registerHost(w http.ResponseWriter, r *http.Request) {
	var host model.Host
	if err := json.NewDecoder(r.Body).Decode(&host); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !host.Valid() {
		writeError(w, http.StatusBadRequest, "vendor, region and instanceId are required")
		return
	}
	s.registry.RegisterHost(host, s.now())
	w.WriteHeader(http.StatusNoContent)
}

// hostPlan serves the host's token budget for every active line item. Hosts without a
// committed plan get an even split.
func (s *Server) hostPlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	host := model.Host{Vendor: vars["vendor"], Region: vars["region"], InstanceID: vars["instanceId"]}
	if !host.Valid() {
		writeError(w, http.StatusBadRequest, "vendor, region and instanceId are required")
		return
	}
	now := s.now()
	s.registry.RegisterHost(host, now)

	lineItems, err := s.registry.ActiveLineItems(r.Context(), model.LineItemStatusActive, now.Add(-s.cfg.ExpiryHorizon))
	if err != nil {
		log.Error().Err(err).Msg("failed to load active line items")
		writeError(w, http.StatusInternalServerError, "line items unavailable")
		return
	}
	hosts, err := s.registry.ActiveHosts(r.Context(), now.Add(-s.cfg.HostActiveWindow))
	if err != nil {
		log.Error().Err(err).Msg("failed to load active hosts")
		writeError(w, http.StatusInternalServerError, "hosts unavailable")
		return
	}

	resp := planResponse{Host: host.Key(), LineItems: make([]lineItemPlan, 0, len(lineItems))}
	var plan *model.AllocationPlan
	p, err := s.registry.PlanForHost(host.Key())
	switch {
	case err == nil:
		plan = &p
		resp.UpdatedAt = &p.UpdatedAt
	case errors.Is(err, store.ErrNotFound):
		log.Debug().Str("hostKey", string(host.Key())).Msg("no committed plan for host; serving even split")
	default:
		log.Error().Err(err).Str("hostKey", string(host.Key())).Msg("failed to load plan")
		writeError(w, http.StatusInternalServerError, "plan unavailable")
		return
	}

	for _, t := range s.distributor.ForPlan(plan, lineItems, len(hosts)) {
		entry := lineItemPlan{BidderCode: t.LineItem.BidderCode, LineItemID: t.LineItem.LineItemID, Tokens: t.Tokens}
		if t.Weighted {
			pct := decimal.New(t.Weight.Scaled, -5)
			entry.Weight = &pct
		}
		resp.LineItems = append(resp.LineItems, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postFeedback(w http.ResponseWriter, r *http.Request) {
	var batch queues.FeedbackBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		metrics.FeedbackMessagesTotal.WithLabelValues("http", "rejected").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := batch.Validate(); err != nil {
		metrics.FeedbackMessagesTotal.WithLabelValues("http", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accepted := s.feedback.Add(batch.Reports(s.now())...)
	metrics.FeedbackMessagesTotal.WithLabelValues("http", "accepted").Inc()
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}
