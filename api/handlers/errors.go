package handlers

import (
	"errors"
	"net/http"

	"github.com/mailbridge/mailbridge/internal/errs"
)

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUnsupportedQuery):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
