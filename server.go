package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/ncpctl/ncp"
)

// Server handles incoming HTTP requests for interacting with the
// configured driver instance and exposes its metrics
type Server struct {
	Logger   *slog.Logger
	Driver   *ncp.Driver
	Gatherer prometheus.Gatherer
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /at", s.handleAT)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps driver errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ncp.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, ncp.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ncp.ErrCommandFailed), errors.Is(err, ncp.ErrUnexpectedResponse):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleAT runs one AT command. With "query" set, the single response line
// preceding the final status is returned.
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command string `json:"command"`
		Query   bool   `json:"query"`
	}
	type ATResponse struct {
		Response string `json:"response,omitempty"`
	}

	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}

	var resp ATResponse
	var err error
	if req.Query {
		resp.Response, err = s.Driver.Query(r.Context(), req.Command)
	} else {
		err = s.Driver.Exec(r.Context(), req.Command)
	}
	if err != nil {
		s.Logger.Error("AT command failed", "error", err, "command", req.Command)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("AT command completed", "command", req.Command)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
