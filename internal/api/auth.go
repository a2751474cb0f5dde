package api

import (
	"encoding/json"
	"net/http"

	"github.com/ember-home/ember-core/internal/auth"
)

// createTokenRequest mints a long-lived token for a new client.
type createTokenRequest struct {
	ClientName string `json:"client_name"`
}

// handleCreateToken issues a long-lived access token. The caller must
// already hold a valid token; the first one is minted at startup and
// printed to the log.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ClientName == "" {
		writeBadRequest(w, "client_name is required")
		return
	}

	token, err := auth.GenerateLongLivedToken(req.ClientName, s.authCfg.Secret)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	issuer := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		issuer = claims.ClientName
	}
	s.logger.Info("access token issued",
		"client_name", req.ClientName,
		"issued_by", issuer,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"client_name": req.ClientName,
		"token":       token,
	})
}
