package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := classify(err)
	serverFault := status >= http.StatusInternalServerError
	var gateErr *auth.GateError
	if errors.As(err, &gateErr) {
		serverFault = gateErr.IsServerFault()
	}
	if serverFault {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		}).Error("request failed")
	}
	abortWithError(c, status, message)
}

func classify(err error) (int, string) {
	var (
		gateErr        *auth.GateError
		accountMissing *service.AccountNotFoundError
		changeMissing  *service.UserChangeNotFoundError
		conflict       *service.AccountCannotBeModifiedError
	)

	switch {
	case errors.As(err, &gateErr):
		return gateErr.Status, gateErr.Message
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidTimeout):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password"
	case errors.As(err, &accountMissing), errors.As(err, &changeMissing):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &conflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrArchiveDisabled):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
