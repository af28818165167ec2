package server

import (
	"errors"
	"net/http"

	"coverserv/src/analytics"
	"coverserv/src/auth"
	"coverserv/src/campaign"
	"coverserv/src/compositor"
	"coverserv/src/crop"
	"coverserv/src/doi"
	"coverserv/src/kv"
	"coverserv/src/pipeline"
	"coverserv/src/session"
	"coverserv/src/templates"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errBadRequest   = errors.New("bad request")
	errUnavailable  = errors.New("service unavailable")
	errActionClosed = errors.New("campaign is not running")
)

const genericFailure = "Something went wrong, please try again."

func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, crop.ErrInvalidInput),
		errors.Is(err, crop.ErrOutOfBounds),
		errors.Is(err, crop.ErrAspectMismatch),
		errors.Is(err, crop.ErrTooSmall),
		errors.Is(err, pipeline.ErrInvalidPhoto),
		errors.Is(err, compositor.ErrUnsupportedImage),
		errors.Is(err, templates.ErrInvalidID),
		errors.Is(err, templates.ErrAssetType),
		errors.Is(err, templates.ErrBadConfig),
		errors.Is(err, campaign.ErrInvalid),
		errors.Is(err, analytics.ErrUnknownEvent),
		errors.Is(err, session.ErrInvalidClient),
		errors.Is(err, pipeline.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, doi.ErrNotCompleted),
		errors.Is(err, errActionClosed):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, templates.ErrNotFound),
		errors.Is(err, templates.ErrNoneValid),
		errors.Is(err, kv.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrBusy),
		errors.Is(err, pipeline.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail answers with the error envelope. Internal errors are logged and
// replaced by a generic message.
func fail(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		msg = genericFailure
	}
	c.AbortWithStatusJSON(status, gin.H{"message": "error", "error": msg})
}
