package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"support-calls/internal/auth"
	"support-calls/internal/calllog"
	"support-calls/internal/chatlog"
	"support-calls/internal/peer"
	"support-calls/internal/rbac"
	"support-calls/internal/signalbus"
	"support-calls/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Signals *signalbus.Service
	Chat    *chatlog.Service
	Calls   *calllog.Service
	Broker  peer.Broker

	// AllowLogin enables the dev token endpoint. Never set in production.
	AllowLogin bool
	Clock      func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

// failErr maps service errors to responses. Unknown errors are logged and
// reported as 500 without detail.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, signalbus.ErrInvalidArgument),
		errors.Is(err, chatlog.ErrInvalidArgument),
		errors.Is(err, calllog.ErrInvalidEvent):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatlog.ErrNotFound):
		fail(c, http.StatusNotFound, "Not found")
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Internal error")
	}
}

func principal(c *gin.Context) (auth.Principal, bool) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "Not authenticated")
		return auth.Principal{}, false
	}
	return p, true
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Auth ---

type loginRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Login issues an access token for the requested principal.
//
// NOTE: dev-only. Credentials are not checked; the route is disabled in production.
func (h Handlers) Login(c *gin.Context) {
	if !h.AllowLogin {
		fail(c, http.StatusNotFound, "Not found")
		return
	}
	if h.Auth == nil {
		fail(c, http.StatusInternalServerError, "auth not configured")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		fail(c, http.StatusBadRequest, "role must be customer or support")
		return
	}
	p := auth.Principal{Email: auth.NormalizeEmail(req.Email), Name: strings.TrimSpace(req.Name), Role: role}
	if !p.Valid() {
		fail(c, http.StatusBadRequest, "email required")
		return
	}
	token, err := h.Auth.Issue(h.now(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user": p})
}

func (h Handlers) Me(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": p, "identity": p.Identity()})
}
