package httpapi

import (
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/audit"
	"credvault.org/internal/auth"
)

const defaultTokenTTL = time.Hour

type tokenRequest struct {
	Address string   `json:"address"`
	Roles   []string `json:"roles"`
	TTLSecs int64    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleToken mints a session token for a wallet address. Role claims are
// self-asserted here; every write is still authorized against the registry's
// stored ownership, so a forged role cannot touch someone else's records.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	ttl := defaultTokenTTL
	if req.TTLSecs > 0 {
		ttl = time.Duration(req.TTLSecs) * time.Second
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{auth.RoleHolder}
	}

	token, err := auth.GenerateToken(req.Address, req.Roles, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token", map[string]any{"address": req.Address, "roles": req.Roles})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Address:   req.Address,
		Roles:     req.Roles,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

type walletResponse struct {
	Address   string `json:"address,omitempty"`
	Connected bool   `json:"connected"`
}

// handleWallet serves the local wallet session: GET /v1/wallet reports state,
// POST /v1/wallet/{connect,refresh,disconnect} drives it.
func (a *API) handleWallet(w http.ResponseWriter, r *http.Request) {
	if a.session == nil {
		writeError(w, http.StatusNotFound, "no wallet session configured")
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/wallet"), "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		addr, err := a.session.Address()
		if err != nil {
			writeJSON(w, http.StatusOK, walletResponse{Connected: false})
			return
		}
		writeJSON(w, http.StatusOK, walletResponse{Address: addr, Connected: true})

	case action == "connect" && r.Method == http.MethodPost:
		addr, err := a.session.Connect(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "wallet.connect", map[string]any{"address": addr})
		writeJSON(w, http.StatusOK, walletResponse{Address: addr, Connected: true})

	case action == "refresh" && r.Method == http.MethodPost:
		addr, err := a.session.Refresh(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, walletResponse{Address: addr, Connected: true})

	case action == "disconnect" && r.Method == http.MethodPost:
		a.session.Disconnect()
		_ = audit.LogEvent(r.Context(), "wallet.disconnect", nil)
		writeJSON(w, http.StatusOK, walletResponse{Connected: false})

	default:
		writeError(w, http.StatusNotFound, "unknown wallet action")
	}
}
