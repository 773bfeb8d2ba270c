// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/sgal-dev/sgal/internal/shared"
)

// RespondError maps workflow errors to HTTP responses using RFC7807.
// Conflicts (state, ordering, concurrent writes) are 409 and are never
// retried automatically by callers.
func RespondError(w http.ResponseWriter, err error) {
	var outOfOrder *shared.OutOfOrderError
	switch {
	case errors.As(err, &outOfOrder):
		ProblemWithBlocking(w, http.StatusConflict, "Out Of Order", err.Error(), outOfOrder.BlockingID.String())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrOutOfOrder):
		Problem(w, http.StatusConflict, "Out Of Order", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, shared.ErrMissingDocument):
		Problem(w, http.StatusBadRequest, "Missing Document", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
