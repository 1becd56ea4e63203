package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upshift01/upshift-sub003/model"
)

func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrPaymentPending):
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

// writeError renders an engine error. state, when available, is the current
// authoritative entity state so the client can resynchronize instead of
// re-deriving status from a stale cache.
func writeError(c *gin.Context, err error, state any) {
	body := gin.H{
		"error": err.Error(),
		"code":  model.ErrorCode(err),
	}
	if state != nil {
		body["state"] = state
	}
	c.JSON(errorStatus(err), body)
}
