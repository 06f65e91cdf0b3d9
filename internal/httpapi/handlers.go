// Package httpapi exposes the registry and orchestrator over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/content"
	"credvault.org/internal/obs"
	"credvault.org/internal/orchestrator"
	"credvault.org/internal/registry"
	"credvault.org/internal/stream"
	"credvault.org/internal/wallet"
)

// API carries the handler dependencies.
type API struct {
	orch    *orchestrator.Orchestrator
	reg     registry.Service
	session *wallet.Session
	broker  *stream.Broker
	started time.Time
	version string
}

// New builds the API surface. session may be nil when the deployment has no
// local wallet flow.
func New(orch *orchestrator.Orchestrator, reg registry.Service, session *wallet.Session, broker *stream.Broker, version string) *API {
	return &API{
		orch:    orch,
		reg:     reg,
		session: session,
		broker:  broker,
		started: time.Now().UTC(),
		version: version,
	}
}

// Routes registers every endpoint on a fresh mux. Callers wrap the result
// with the middleware chain.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/readyz", a.handleReady)
	mux.Handle("/metrics", obs.Handler())

	mux.HandleFunc("/v1/info", a.handleInfo)
	mux.HandleFunc("/v1/auth/token", a.handleToken)
	mux.HandleFunc("/v1/wallet", a.handleWallet)
	mux.HandleFunc("/v1/wallet/", a.handleWallet)
	mux.HandleFunc("/v1/files", a.withAuth(a.handleFiles))
	mux.HandleFunc("/v1/files/", a.withAuth(a.handleFileByHash))
	mux.HandleFunc("/v1/issuers", a.withAuth(a.handleIssuers))
	mux.HandleFunc("/v1/issuers/", a.handleIssuerByAddress)
	mux.HandleFunc("/v1/credentials", a.withAuth(a.handleCredentials))
	mux.HandleFunc("/v1/credentials/", a.handleCredentialByCID)
	mux.HandleFunc("/v1/shares", a.withAuth(a.handleShares))
	mux.HandleFunc("/v1/portfolio", a.withAuth(a.handlePortfolio))
	mux.HandleFunc("/v1/events", a.handleEvents)
	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := a.reg.FileCount(r.Context()); err != nil {
		obs.SetReady(false)
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	count, err := a.reg.FileCount(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "credvault",
		"version":     a.version,
		"uptime_s":    int(time.Since(a.started).Seconds()),
		"file_count":  count,
		"subscribers": a.broker.SubscriberCount(),
	})
}

// decodeJSON strictly decodes the body into dst: unknown fields and trailing
// data are errors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, content.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateFile),
		errors.Is(err, registry.ErrAlreadyDeleted),
		errors.Is(err, registry.ErrAlreadyRevoked),
		errors.Is(err, registry.ErrNotActive),
		errors.Is(err, orchestrator.ErrShareNoop):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrNotOwner),
		errors.Is(err, registry.ErrNotIssuer),
		errors.Is(err, registry.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, wallet.ErrNoWallet):
		status = http.StatusUnauthorized
	case errors.Is(err, registry.ErrFieldMandatory),
		errors.Is(err, registry.ErrFieldNotFound),
		errors.Is(err, registry.ErrInvalidMetadata),
		errors.Is(err, registry.ErrInvalidDuration),
		errors.Is(err, content.ErrEmpty):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}
