package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"passlog/ingest"
	"passlog/lifecycle"
	"passlog/logger"
	"passlog/store"
)

// errBadQuery marks malformed query parameters.
var errBadQuery = errors.New("bad query parameter")

// fail writes the status matching err. Unknown ids get an empty 404; only
// internal faults are logged as errors.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, errBadQuery):
		c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrOutOfOrder):
		c.String(http.StatusConflict, err.Error())
	default:
		logger.Logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request failed")
		c.String(http.StatusInternalServerError, err.Error())
	}
}
