package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"eventsnap/internal/services/events"
)

// maxBodyBytes bounds request bodies; images arrive base64 encoded.
const maxBodyBytes = 20 << 20

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, NewErrorResponse(code, message))
}

// decodeJSON reads a JSON body into dst. Failures wrap errBadRequest.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// errorStatus maps a service error to its HTTP status and envelope.
func errorStatus(err error) (int, *ErrorResponse) {
	var (
		rateLimit  *events.RateLimitError
		validation *events.ValidationError
		transport  *events.TransportError
		storage    *events.StorageError
	)

	switch {
	case errors.As(err, &rateLimit):
		resp := NewErrorResponse(ErrCodeRateLimit, rateLimit.Error())
		resetAt := rateLimit.ResetAt.UTC()
		resp.Error.ResetAt = &resetAt
		return http.StatusTooManyRequests, resp
	case errors.As(err, &validation):
		resp := NewErrorResponse(ErrCodeValidation, validation.Error())
		resp.Error.Details = validation.Events
		return http.StatusBadRequest, resp
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, NewErrorResponse(ErrCodeBadRequest, err.Error())
	case errors.Is(err, events.ErrInvalidInput):
		return http.StatusBadRequest, NewErrorResponse(ErrCodeValidation, err.Error())
	case errors.Is(err, events.ErrNotFound):
		return http.StatusNotFound, NewErrorResponse(ErrCodeNotFound, err.Error())
	case errors.Is(err, events.ErrNoEventFound):
		return http.StatusUnprocessableEntity, NewErrorResponse(ErrCodeNoEventFound, err.Error())
	case errors.Is(err, events.ErrBatchLimitExceeded):
		return http.StatusUnprocessableEntity, NewErrorResponse(ErrCodeBatchLimit, err.Error())
	case errors.Is(err, events.ErrNoExtractableContent):
		return http.StatusUnprocessableEntity, NewErrorResponse(ErrCodeNoContent, err.Error())
	case errors.As(err, &transport):
		return http.StatusBadGateway, NewErrorResponse(ErrCodeUpstream, transport.Error())
	case errors.As(err, &storage):
		return http.StatusServiceUnavailable, NewErrorResponse(ErrCodeStorage, "Event storage is unavailable")
	default:
		return http.StatusInternalServerError, NewErrorResponse(ErrCodeInternal, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorStatus(err)

	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Err(err).
		Str("path", r.URL.Path).
		Str("code", resp.Error.Code).
		Msg("Request failed")

	if resp.Error.ResetAt != nil {
		secs := math.Ceil(time.Until(*resp.Error.ResetAt).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(max(int(secs), 1)))
	}
	writeJSON(w, status, resp)
}
