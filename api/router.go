package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/hosts", s.registerHost).Methods(http.MethodPost)
	v1.HandleFunc("/hosts/{vendor}/{region}/{instanceId}/plan", s.hostPlan).Methods(http.MethodGet)
	v1.HandleFunc("/feedback", s.postFeedback).Methods(http.MethodPost)

	return r
}

// Handler wraps the router with access logging and panic recovery.
func Handler(s *Server) http.Handler {
	recovered := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(NewRouter(s))
	return handlers.LoggingHandler(log.Logger, recovered)
}
