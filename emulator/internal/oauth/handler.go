package oauth

import (
	"encoding/json"
	"net/http"
)

// TokenResponse represents the OAuth2 token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ErrorResponse represents an OAuth2 error response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Handler handles OAuth2 endpoints.
type Handler struct {
	tokenManager *TokenManager
	clientID     string
	clientSecret string
}

// NewHandler creates a new OAuth2 handler. Empty credentials accept any client.
func NewHandler(tm *TokenManager, clientID, clientSecret string) *Handler {
	return &Handler{tokenManager: tm, clientID: clientID, clientSecret: clientSecret}
}

// HandleToken handles the token endpoint for the authorization_code and
// refresh_token grants.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "Method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse form")
		return
	}

	if h.clientID != "" && (r.FormValue("client_id") != h.clientID || r.FormValue("client_secret") != h.clientSecret) {
		h.writeError(w, http.StatusUnauthorized, "invalid_client", "Unknown client credentials")
		return
	}

	switch r.FormValue("grant_type") {
	case "":
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing grant_type")
		return
	case "authorization_code":
		if r.FormValue("code") == "" {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing code")
			return
		}
	case "refresh_token":
		valid, err := h.tokenManager.RedeemRefreshToken(r.FormValue("refresh_token"))
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to validate refresh token")
			return
		}
		if !valid {
			h.writeError(w, http.StatusBadRequest, "invalid_grant", "Invalid or expired refresh token")
			return
		}
	default:
		h.writeError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
		return
	}

	accessToken, err := h.tokenManager.GenerateToken()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate access token")
		return
	}

	refreshToken, err := h.tokenManager.GenerateRefreshToken()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to generate refresh token")
		return
	}

	response := TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    tokenTTL,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an OAuth2 error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, error, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            error,
		ErrorDescription: description,
	})
}
