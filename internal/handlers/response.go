package handlers

import (
	"errors"
	"net/http"

	"github.com/franzego/notifyhub/internal/apperr"
	"github.com/franzego/notifyhub/internal/middleware"
	"github.com/franzego/notifyhub/internal/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func respond(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, models.APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.APIResponse{
		Success: false,
		Error:   err.Error(),
		Message: "Invalid Request Body",
	})
}

// fail writes err in the response envelope with the status its kind maps to.
// Internal errors are logged and hidden from the caller.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	code := apperr.HTTPStatus(err)
	resp := models.APIResponse{Success: false, Error: err.Error(), Message: http.StatusText(code)}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) && len(verr.Missing) > 0 {
		resp.Data = gin.H{"missing": verr.Missing}
	}
	if code == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("correlation_id", c.GetString(middleware.CorrelationIDKey)),
			zap.Error(err),
		)
		resp.Error = "internal error"
	}
	_ = c.Error(err)
	c.JSON(code, resp)
}

func callerID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

func errUnknownChannel(ch models.Channel) error {
	return apperr.Validation("unknown channel %q", ch)
}
