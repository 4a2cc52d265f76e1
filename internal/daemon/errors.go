package daemon

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"medscribe/internal/api"
	"medscribe/internal/jobs"
	"medscribe/internal/services"
	"medscribe/internal/submission"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, errorType, message string, details map[string]string) {
	writeJSON(w, r, status, api.Error{ErrorType: errorType, Message: message, Details: details})
}

// respondError maps a domain error onto a status code and error body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var details map[string]string
	var verr *submission.ValidationError

	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		details = verr.Details
	case errors.Is(err, submission.ErrUploadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrTerminal):
		writeError(w, r, http.StatusConflict, "conflict", err.Error(), nil)
		return
	case errors.Is(err, services.ErrEnqueue), errors.Is(err, services.ErrStageUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, r, status, services.ErrorType(err), err.Error(), details)
}
