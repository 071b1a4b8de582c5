package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/entity"
)

// mapError writes the response for a service error.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		writeErr(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, entity.ErrInvalidInput):
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, entity.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, entity.ErrStoreUnavailable):
		logServerError(r, err)
		writeErr(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "storage temporarily unavailable")
	default:
		logServerError(r, err)
		writeErr(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func logServerError(r *http.Request, err error) {
	log.WithFields(log.Fields{
		"component": "http",
		"req_id":    middleware.GetReqID(r.Context()),
		"path":      r.URL.Path,
		"error":     err.Error(),
	}).Error("request failed")
}
