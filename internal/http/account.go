package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mrlokans/authview/internal/audit"
	"github.com/mrlokans/authview/internal/auth"
	"github.com/mrlokans/authview/internal/entities"
)

// ProfileLookup finds the users table record of a provider user.
type ProfileLookup interface {
	GetByUserID(ctx context.Context, userID string) (*entities.UserProfile, error)
}

// AccountController serves the signed-in user's own data. Routes using it
// must run behind auth.Middleware.RequireAuth.
type AccountController struct {
	sessions *auth.SessionManager
	profiles ProfileLookup
	audit    *audit.Service
	logger   *zap.Logger
}

func NewAccountController(sessions *auth.SessionManager, profiles ProfileLookup, auditService *audit.Service, logger *zap.Logger) *AccountController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountController{
		sessions: sessions,
		profiles: profiles,
		audit:    auditService,
		logger:   logger,
	}
}

type MeResponse struct {
	UserID  string                `json:"user_id"`
	Email   string                `json:"email"`
	LoginAt *time.Time            `json:"login_at,omitempty"`
	Profile *entities.UserProfile `json:"profile,omitempty"`
}

// Me handles GET /api/me
func (ac *AccountController) Me(c *gin.Context) {
	userID := auth.GetUserID(c)
	response := MeResponse{
		UserID: userID,
		Email:  auth.GetEmail(c),
	}

	if ac.sessions != nil {
		if at := ac.sessions.LoginAt(c.Request.Context()); !at.IsZero() {
			response.LoginAt = &at
		}
	}

	if ac.profiles != nil {
		profile, err := ac.profiles.GetByUserID(c.Request.Context(), userID)
		switch {
		case err == nil:
			response.Profile = profile
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			respondInternalError(c, ac.logger, err, "load profile")
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

// AuditEvents handles GET /api/me/audit
// Returns the caller's own auth events, newest first.
func (ac *AccountController) AuditEvents(c *gin.Context) {
	if ac.audit == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "audit trail is disabled"})
		return
	}

	limit, offset := parsePagination(c)
	events, total, err := ac.audit.GetEvents(auth.GetUserID(c), limit, offset)
	if err != nil {
		respondInternalError(c, ac.logger, err, "load audit events")
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:    events,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(events)) < total,
	})
}
