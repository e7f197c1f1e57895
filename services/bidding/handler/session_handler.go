package handler

import (
	"fmt"
	"net/http"

	model "table-bidding/internal/models"
	"table-bidding/internal/session"
	"table-bidding/services/bidding/helpers"
	"table-bidding/utils"

	"github.com/gin-gonic/gin"
)

// SessionHandler serves login, spectator entry and logout
type SessionHandler struct {
	auth     Authenticator
	sessions *session.Manager
}

func NewSessionHandler(auth Authenticator, sessions *session.Manager) *SessionHandler {
	return &SessionHandler{auth: auth, sessions: sessions}
}

// LoginHandler handles POST /auth/login
func (h *SessionHandler) LoginHandler(c *gin.Context) {
	var req helpers.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "LoginHandler", err)
		return
	}

	identity, err := h.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("LoginHandler: login failed", map[string]any{"username": req.Username, "error": err.Error()})
		return
	}

	expiresAt, err := h.sessions.SetCookie(c, identity)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, err, "failed to create session")
		utils.Error("LoginHandler: failed to issue session", map[string]any{"username": identity.Username, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "logged in", gin.H{
		"role":       identity.Role,
		"username":   identity.Username,
		"expires_at": expiresAt,
	})
	helpers.LogSuccess("LoginHandler", "logged in", map[string]any{"username": identity.Username})
}

// SpectatorHandler handles POST /auth/spectator
func (h *SessionHandler) SpectatorHandler(c *gin.Context) {
	identity := model.Spectator()
	expiresAt, err := h.sessions.SetCookie(c, identity)
	if err != nil {
		utils.JSONError(c, http.StatusInternalServerError, err, "failed to create session")
		utils.Error("SpectatorHandler: failed to issue session", map[string]any{"error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, "entered as spectator", gin.H{
		"role":       identity.Role,
		"expires_at": expiresAt,
	})
	helpers.LogSuccess("SpectatorHandler", "entered as spectator", map[string]any{"client_ip": c.ClientIP()})
}

// LogoutHandler handles POST /auth/logout
func (h *SessionHandler) LogoutHandler(c *gin.Context) {
	identity := session.FromContext(c)
	h.sessions.ClearCookies(c)
	utils.JSONResponse(c, http.StatusOK, "logged out", nil)
	helpers.LogSuccess("LogoutHandler", "logged out", map[string]any{"role": identity.Role, "username": identity.Username})
}

// CurrentSessionHandler handles GET /auth/session
func (h *SessionHandler) CurrentSessionHandler(c *gin.Context) {
	identity := session.FromContext(c)
	utils.JSONResponse(c, http.StatusOK, "session resolved", gin.H{
		"session": helpers.SessionResponse{Role: string(identity.Role), Username: identity.Username},
	})
}
