package http

import (
	"errors"
	"net/http"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/schema"
)

// ErrorBody is the JSON shape of a rejected request.
type ErrorBody struct {
	Error  string                    `json:"error"`
	Code   string                    `json:"code"`
	Fields []*schema.ValidationError `json:"fields,omitempty"`

	// Durable and Cached are set for recovery conflicts.
	Durable *domain.Progress         `json:"durable,omitempty"`
	Cached  *domain.RecoverySnapshot `json:"cached,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorBody{Error: err.Error(), Code: code})
}

// errorResponse maps a coordinator error to a status code and body.
func errorResponse(err error) (int, ErrorBody) {
	body := ErrorBody{Error: err.Error()}

	var (
		validation *domain.ValidationError
		conflict   *domain.RecoveryConflictError
		transition *domain.TransitionError
		notReached *domain.ItemNotReachedError
		jump       *domain.JumpRejectedError
		persist    *domain.PersistenceError
		cache      *domain.CacheError
	)

	switch {
	case errors.As(err, &validation):
		body.Code = "validation_failed"
		body.Fields = validation.Fields()
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &conflict):
		body.Code = "recovery_conflict"
		body.Durable = conflict.Durable
		body.Cached = conflict.Cached
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &transition):
		body.Code = "invalid_transition"
		return http.StatusConflict, body
	case errors.As(err, &notReached):
		body.Code = "item_not_reached"
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrStaleWrite):
		body.Code = "stale_write"
		return http.StatusConflict, body
	case errors.As(err, &jump):
		body.Code = "jump_rejected"
		return http.StatusBadRequest, body
	case errors.As(err, &persist):
		body.Code = "store_unavailable"
		return http.StatusServiceUnavailable, body
	case errors.As(err, &cache):
		body.Code = "cache_unavailable"
		return http.StatusServiceUnavailable, body
	}
	body.Code = "internal"
	return http.StatusInternalServerError, body
}
