package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/domain"
	"identity-gateway/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	accounts  service.AccountService
	lifecycle service.LifecycleService
	audit     service.AuditService
	gate      *auth.Gate
	metrics   http.Handler
	logger    *logrus.Logger
	now       func() time.Time
}

func NewHandler(accounts service.AccountService, lifecycle service.LifecycleService, audit service.AuditService, gate *auth.Gate, metrics http.Handler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		accounts:  accounts,
		lifecycle: lifecycle,
		audit:     audit,
		gate:      gate,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.Use(h.authenticate("/auth/signup", "/auth/login", "/health", "/metrics"))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/signup", h.signup)
		authGroup.POST("/login", h.login)
	}

	api := router.Group("/api")
	{
		me := api.Group("/accounts/me")
		me.GET("", h.me)
		me.PUT("/username", h.changeUsername)
		me.PUT("/email", h.changeEmail)
		me.PUT("/password", h.changePassword)

		admin := api.Group("/accounts/:id", h.requireAny(domain.RoleAdmin.Tag()))
		admin.POST("/promote", h.promote)
		admin.POST("/demote", h.demote)
		admin.POST("/ban", h.ban)
		admin.POST("/unban", h.unban)
		admin.POST("/timeout", h.timeout)

		changes := api.Group("/changes", h.requireAny(string(domain.PermOperatorGet)))
		changes.GET("", h.listChanges)
		changes.GET("/:id", h.getChange)
		changes.GET("/account/:id", h.listAccountChanges)

		archives := api.Group("/changes/account/:id/archives", h.requireAll(string(domain.PermAdminGet), string(domain.PermAdminPut)))
		archives.POST("", h.exportChanges)
		archives.GET("", h.listArchives)
	}
}

type signupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changeUsernameRequest struct {
	Username string `json:"username" binding:"required"`
}

type changeEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type timeoutRequest struct {
	Duration *int64 `json:"duration" form:"duration"`
	Unit     string `json:"unit" form:"unit"`
}

func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.accounts.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, authToResponse(res))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authToResponse(res))
}

func (h *Handler) me(c *gin.Context) {
	principal := currentPrincipal(c)
	account, err := h.accounts.Get(c.Request.Context(), principal.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountToResponse(account))
}

func (h *Handler) changeUsername(c *gin.Context) {
	var req changeUsernameRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.accounts.ChangeUsername(c.Request.Context(), currentPrincipal(c).ID, req.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, authToResponse(res))
}

func (h *Handler) changeEmail(c *gin.Context) {
	var req changeEmailRequest
	if !h.bindJSON(c, &req) {
		return
	}

	account, err := h.accounts.ChangeEmail(c.Request.Context(), currentPrincipal(c).ID, req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountToResponse(account))
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.accounts.ChangePassword(c.Request.Context(), currentPrincipal(c).ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "Password changed"})
}

type lifecycleOp func(c *gin.Context, actor string, id uuid.UUID) (string, error)

func (h *Handler) runLifecycle(c *gin.Context, op lifecycleOp) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	msg, err := op(c, currentPrincipal(c).ID.String(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: msg})
}

func (h *Handler) promote(c *gin.Context) {
	h.runLifecycle(c, func(c *gin.Context, actor string, id uuid.UUID) (string, error) {
		return h.lifecycle.Promote(c.Request.Context(), actor, id)
	})
}

func (h *Handler) demote(c *gin.Context) {
	h.runLifecycle(c, func(c *gin.Context, actor string, id uuid.UUID) (string, error) {
		return h.lifecycle.Demote(c.Request.Context(), actor, id)
	})
}

func (h *Handler) ban(c *gin.Context) {
	h.runLifecycle(c, func(c *gin.Context, actor string, id uuid.UUID) (string, error) {
		return h.lifecycle.Ban(c.Request.Context(), actor, id)
	})
}

func (h *Handler) unban(c *gin.Context) {
	h.runLifecycle(c, func(c *gin.Context, actor string, id uuid.UUID) (string, error) {
		return h.lifecycle.Unban(c.Request.Context(), actor, id)
	})
}

func (h *Handler) timeout(c *gin.Context) {
	var req timeoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := c.Query("duration"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(c, fmt.Errorf("%w: duration must be an integer", service.ErrInvalidTimeout))
			return
		}
		req.Duration = &n
	}
	if v := c.Query("unit"); v != "" {
		req.Unit = v
	}

	amount, unit := h.lifecycle.DefaultTimeout()
	if req.Duration != nil {
		amount = *req.Duration
	}
	if req.Unit != "" {
		parsed, ok := service.ParseTimeUnit(req.Unit)
		if !ok {
			h.writeError(c, fmt.Errorf("%w: unknown time unit %q", service.ErrInvalidTimeout, req.Unit))
			return
		}
		unit = parsed
	}

	h.runLifecycle(c, func(c *gin.Context, actor string, id uuid.UUID) (string, error) {
		return h.lifecycle.Timeout(c.Request.Context(), actor, id, amount, unit)
	})
}

func (h *Handler) listChanges(c *gin.Context) {
	changes, err := h.audit.GetAll(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, changesToResponse(changes))
}

func (h *Handler) getChange(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, "invalid change id")
		return
	}

	change, err := h.audit.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, changeToResponse(*change))
}

func (h *Handler) listAccountChanges(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	changes, err := h.audit.GetAllForAccount(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, changesToResponse(changes))
}

func (h *Handler) exportChanges(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	location, err := h.audit.Export(c.Request.Context(), id, h.now())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ArchiveResponse{Location: location})
}

func (h *Handler) listArchives(c *gin.Context) {
	id, ok := accountIDParam(c)
	if !ok {
		return
	}

	objects, err := h.audit.ListArchives(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func accountIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}
