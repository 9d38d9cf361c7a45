// Package api exposes the identity and accounting services over HTTP.
// Every endpoint speaks the wire call envelope: encrypted arguments
// in, signed (and normally encrypted) status-tagged responses out. The
// handler boundary is the only place errors become wire envelopes; the
// process never crashes on a malformed or malicious request.
package api

import (
	"crypto/ecdh"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/keys"
	"github.com/signetfin/signet/internal/wire"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by envelope status",
	}, []string{"service", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "endpoint"})
)

// Service is the identity material one daemon presents on the wire:
// its declared ServiceInfo plus the private halves used to sign
// responses and open sealed arguments.
type Service struct {
	Info     directory.ServiceInfo
	SignKey  keys.PrivateKey
	Exchange *ecdh.PrivateKey
	Logger   *slog.Logger
}

// NewService generates fresh service identity material.
func NewService(serviceType directory.ServiceType, canonicalURL string, logger *slog.Logger) (*Service, error) {
	cert, signKey, err := keys.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	exchange, err := keys.GenerateExchangeKey()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Info: directory.ServiceInfo{
			UID:               uuid.NewString(),
			ServiceType:       serviceType,
			CanonicalURL:      canonicalURL,
			PublicKey:         exchange.PublicKey().Bytes(),
			PublicCertificate: cert.String(),
		},
		SignKey:  signKey,
		Exchange: exchange,
		Logger:   logger,
	}, nil
}

// HandleRoot serves the unauthenticated identity bootstrap: the
// service info in clear, signed by the service's own certificate.
func (s *Service) HandleRoot(w http.ResponseWriter, r *http.Request) {
	resp, err := wire.SealResponse(s.SignKey, nil,
		map[string]directory.ServiceInfo{"service_info": s.Info}, nil)
	if err != nil {
		s.respondError(w, "/", err)
		return
	}
	s.respond(w, "/", resp)
}

// handle wraps an endpoint: request decode, argument decryption,
// panic containment and the conversion of every error into a
// {status:-1, message} envelope.
func (s *Service) handle(endpoint string, fn func(r *http.Request, req *wire.CallRequest) (*wire.CallResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(string(s.Info.ServiceType), endpoint))
		defer timer.ObserveDuration()

		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.Error("handler panic", "endpoint", endpoint, "panic", rec)
				s.respond(w, endpoint, &wire.CallResponse{
					Status:  -1,
					Message: "internal error",
				})
			}
		}()

		var req wire.CallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, endpoint, wire.ErrValue)
			return
		}

		resp, err := fn(r, &req)
		if err != nil {
			s.respondError(w, endpoint, err)
			return
		}
		s.respond(w, endpoint, resp)
	}
}

// decodeArgs opens the sealed argument blob into v.
func (s *Service) decodeArgs(req *wire.CallRequest, v any) error {
	return wire.DecodeArgs(s.Exchange, req, v)
}

// seal builds the success envelope for the caller's response key.
func (s *Service) seal(req *wire.CallRequest, payload any, log []string) (*wire.CallResponse, error) {
	return wire.SealResponse(s.SignKey, req.ResponseKey, payload, log)
}

func (s *Service) respond(w http.ResponseWriter, endpoint string, resp *wire.CallResponse) {
	httpRequestsTotal.WithLabelValues(string(s.Info.ServiceType), endpoint,
		strconv.Itoa(resp.Status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// respondError converts any failure into the wire envelope. Messages
// carry the error text; internals never leak stack traces.
func (s *Service) respondError(w http.ResponseWriter, endpoint string, err error) {
	s.Logger.Info("request failed", "service", s.Info.ServiceType,
		"endpoint", endpoint, "err", err)
	s.respond(w, endpoint, &wire.CallResponse{Status: -1, Message: err.Error()})
}
