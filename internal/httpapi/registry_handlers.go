package httpapi

import (
	"net/http"
	"strings"
	"time"

	"credvault.org/internal/auth"
	"credvault.org/internal/registry"
)

func callerAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, ok := auth.AddressFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no authenticated wallet")
		return "", false
	}
	return addr, true
}

type uploadRequest struct {
	FileName string `json:"file_name"`
	Data     []byte `json:"data"`
}

func (a *API) handleFiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		caller, ok := callerAddress(w, r)
		if !ok {
			return
		}
		files, err := a.reg.UserFiles(r.Context(), caller)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": files})

	case http.MethodPost:
		caller, ok := callerAddress(w, r)
		if !ok {
			return
		}
		var req uploadRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.FileName) == "" {
			writeError(w, http.StatusBadRequest, "file_name is required")
			return
		}
		res, err := a.orch.UploadDocument(r.Context(), caller, req.FileName, req.Data)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleFileByHash serves /v1/files/{hash} and /v1/files/{hash}/content.
func (a *API) handleFileByHash(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	hash, sub, _ := strings.Cut(rest, "/")
	if hash == "" {
		writeError(w, http.StatusNotFound, "missing file hash")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		ctx := r.Context()
		owner, err := a.reg.FileOwner(ctx, hash)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ts, err := a.reg.FileTimestamp(ctx, hash)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		exists, _ := a.reg.FileExists(ctx, hash)
		writeJSON(w, http.StatusOK, map[string]any{
			"hash":      hash,
			"owner":     owner,
			"timestamp": ts,
			"exists":    exists,
		})

	case sub == "content" && r.Method == http.MethodGet:
		data, err := a.orch.FetchDocument(r.Context(), hash)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

	case sub == "" && r.Method == http.MethodDelete:
		caller, ok := callerAddress(w, r)
		if !ok {
			return
		}
		txHash, err := a.orch.DeleteDocument(r.Context(), caller, hash)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

type registerIssuerRequest struct {
	Address string `json:"address"`
}

func (a *API) handleIssuers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	requireRole(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerAddress(w, r)
		if !ok {
			return
		}
		var req registerIssuerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		txHash, err := a.orch.RegisterIssuer(r.Context(), caller, req.Address)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"address": req.Address, "tx_hash": txHash})
	})(w, r)
}

func (a *API) handleIssuerByAddress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	address := strings.TrimPrefix(r.URL.Path, "/v1/issuers/")
	if address == "" {
		writeError(w, http.StatusNotFound, "missing address")
		return
	}
	ok, err := a.reg.IsIssuer(r.Context(), address)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "is_issuer": ok})
}

type issueRequest struct {
	Receiver        string            `json:"receiver"`
	Metadata        map[string]string `json:"metadata"`
	MandatoryFields []string          `json:"mandatory_fields"`
}

func (a *API) handleCredentials(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		caller, ok := callerAddress(w, r)
		if !ok {
			return
		}
		creds, err := a.reg.IssuedCredentials(r.Context(), caller)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})

	case http.MethodPost:
		requireRole(auth.RoleIssuer, func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerAddress(w, r)
			if !ok {
				return
			}
			var req issueRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if strings.TrimSpace(req.Receiver) == "" {
				writeError(w, http.StatusBadRequest, "receiver is required")
				return
			}
			res, err := a.orch.IssueCredential(r.Context(), caller, req.Receiver, req.Metadata, req.MandatoryFields)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})(w, r)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type revokeFieldRequest struct {
	Field string `json:"field"`
}

type shareRequest struct {
	Recipient    string   `json:"recipient"`
	Fields       []string `json:"fields"`
	DurationSecs int64    `json:"duration_seconds"`
}

// handleCredentialByCID dispatches /v1/credentials/{cid}[/action]. Reads are
// public the way registry reads are; mutations require a session.
func (a *API) handleCredentialByCID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	cid, action, _ := strings.Cut(rest, "/")
	if cid == "" {
		writeError(w, http.StatusNotFound, "missing credential cid")
		return
	}
	ctx := r.Context()

	switch {
	case action == "" && r.Method == http.MethodGet:
		var fields []string
		if raw := r.URL.Query().Get("fields"); raw != "" {
			fields = strings.Split(raw, ",")
		}
		details, err := a.reg.CredentialDetails(ctx, cid, fields)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, details)

	case action == "verify" && r.Method == http.MethodGet:
		v, err := a.reg.VerifyCredential(ctx, cid)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)

	case action == "fields" && r.Method == http.MethodGet:
		fields, err := a.orch.AvailableFields(ctx, cid)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fields": fields})

	case action == "shared-view" && r.Method == http.MethodGet:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerAddress(w, r)
			if !ok {
				return
			}
			view, grant, err := a.orch.SharedView(r.Context(), caller, cid)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"metadata": view, "grant": grant})
		})(w, r)

	case action == "revoke" && r.Method == http.MethodPost:
		a.withAuth(requireRole(auth.RoleIssuer, func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerAddress(w, r)
			if !ok {
				return
			}
			txHash, err := a.orch.Revoke(r.Context(), caller, cid)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"tx_hash": txHash})
		}))(w, r)

	case action == "revoke-field" && r.Method == http.MethodPost:
		a.withAuth(requireRole(auth.RoleIssuer, func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerAddress(w, r)
			if !ok {
				return
			}
			var req revokeFieldRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if strings.TrimSpace(req.Field) == "" {
				writeError(w, http.StatusBadRequest, "field is required")
				return
			}
			res, err := a.orch.RevokeField(r.Context(), caller, cid, req.Field)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		}))(w, r)

	case action == "share" && r.Method == http.MethodPost:
		a.withAuth(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerAddress(w, r)
			if !ok {
				return
			}
			var req shareRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			if strings.TrimSpace(req.Recipient) == "" {
				writeError(w, http.StatusBadRequest, "recipient is required")
				return
			}
			res, err := a.orch.Share(r.Context(), caller, cid, req.Recipient, req.Fields,
				time.Duration(req.DurationSecs)*time.Second)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})(w, r)

	default:
		writeError(w, http.StatusNotFound, "unknown credential action")
	}
}

func (a *API) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}
	p, err := a.orch.Refresh(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	caller, ok := callerAddress(w, r)
	if !ok {
		return
	}

	var (
		grants []registry.ShareGrant
		err    error
	)
	switch direction := r.URL.Query().Get("direction"); direction {
	case "", "received":
		grants, err = a.reg.SharedWith(r.Context(), caller)
	case "given":
		grants, err = a.reg.SharedBy(r.Context(), caller)
	default:
		writeError(w, http.StatusBadRequest, "direction must be received or given")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if grants == nil {
		grants = []registry.ShareGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}
