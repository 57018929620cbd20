// Package httpd is the thin REST shim over the connection manager: one POST
// route per gateway operation, JSON in, the parser's typed record out.
package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libbridge/sip2go/bridge"
	"github.com/libbridge/sip2go/common"
	"github.com/libbridge/sip2go/sip2"
)

// Server routes REST calls to the manager.
type Server struct {
	mgr      *bridge.Manager
	validate *validator.Validate
	log      common.Logger
}

func NewServer(mgr *bridge.Manager, logger common.Logger) *Server {
	if logger == nil {
		logger = common.NopLogger()
	}
	return &Server{
		mgr:      mgr,
		validate: validator.New(),
		log:      logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/branches/{branch}", func(r chi.Router) {
		r.Post("/patron-status", s.handlePatronStatus)
		r.Post("/checkout", s.handleCheckout)
		r.Post("/checkin", s.handleCheckin)
		r.Post("/item-information", s.handleItemInformation)
		r.Post("/renew", s.handleRenew)
		r.Post("/fee-paid", s.handleFeePaid)
		r.Post("/patron-information", s.handlePatronInformation)
		r.Post("/hold", s.handleHold)
		r.Post("/renew-all", s.handleRenewAll)
		r.Post("/end-session", s.handleEndSession)
		r.Post("/sc-status", s.handleSCStatus)
		r.Post("/block-patron", s.handleBlockPatron)
		r.Post("/item-status-update", s.handleItemStatusUpdate)
		r.Post("/patron-enable", s.handlePatronEnable)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"branches": s.mgr.BranchIDs(),
	})
}

// decode unmarshals and validates a request body. A nil dst skips the body
// entirely.
func (s *Server) decode(r *http.Request, dst interface{}) error {
	if dst == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return s.validate.Struct(dst)
}

type errorBody struct {
	Error   string `json:"error"`
	RetryAt string `json:"retryAt,omitempty"`
}

// writeError maps protocol error kinds onto HTTP statuses: unknown branch
// 404, breaker-gated or shutting down 503, timeouts 504, everything else the
// LMS conversation produced 502. Bad input is answered 400 by
// writeBadRequest.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var body errorBody
	body.Error = err.Error()

	status := http.StatusBadGateway
	var open *bridge.CircuitOpenError
	switch {
	case errors.As(err, &open):
		status = http.StatusServiceUnavailable
		body.RetryAt = open.RetryAt.UTC().Format(time.RFC3339)
	case errors.Is(err, bridge.ErrProbeInFlight) || errors.Is(err, bridge.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrUnknownBranch):
		status = http.StatusNotFound
	case errors.Is(err, sip2.ErrConnectTimeout) || errors.Is(err, sip2.ErrRequestTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, body)
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func branchID(r *http.Request) string {
	return chi.URLParam(r, "branch")
}

func (s *Server) handlePatronStatus(w http.ResponseWriter, r *http.Request) {
	var req bridge.PatronStatusRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.PatronStatus(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req bridge.CheckoutRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.Checkout(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req bridge.CheckinRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.Checkin(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItemInformation(w http.ResponseWriter, r *http.Request) {
	var req bridge.ItemInformationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.ItemInformation(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req bridge.RenewRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.Renew(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeePaid(w http.ResponseWriter, r *http.Request) {
	var req bridge.FeePaidRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.FeePaid(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePatronInformation(w http.ResponseWriter, r *http.Request) {
	var req bridge.PatronInformationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.PatronInformation(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	var req bridge.HoldRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.Hold(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRenewAll(w http.ResponseWriter, r *http.Request) {
	var req bridge.RenewAllRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.RenewAll(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req bridge.EndSessionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.EndSession(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSCStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.mgr.SCStatus(branchID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBlockPatron(w http.ResponseWriter, r *http.Request) {
	var req bridge.BlockPatronRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if err := s.mgr.BlockPatron(branchID(r), req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleItemStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req bridge.ItemStatusUpdateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.ItemStatusUpdate(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePatronEnable(w http.ResponseWriter, r *http.Request) {
	var req bridge.PatronEnableRequest
	if err := s.decode(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	resp, err := s.mgr.PatronEnable(branchID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
