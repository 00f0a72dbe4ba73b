// Package api wires the HTTP surface: request parameter parsing, the
// central error-to-response mapping, and the list/get/health/metrics
// handlers that sit in front of the event store.
package api

import (
	"errors"
	"net/http"

	"github.com/leighmcculloch/stellar-events-api/internal/archive"
	"github.com/leighmcculloch/stellar-events-api/internal/cursor"
	"github.com/leighmcculloch/stellar-events-api/internal/query"
)

// apiError is the internal representation of the error envelope described
// by the HTTP API: every handler path funnels its failures through
// mapError so there is exactly one place that decides status codes and
// error codes.
type apiError struct {
	Status  int
	Code    string
	Message string
	Param   string
}

func (e *apiError) Error() string { return e.Message }

func newAPIError(status int, code, param, message string) *apiError {
	return &apiError{Status: status, Code: code, Message: message, Param: param}
}

// mapError translates any error produced while serving a request into the
// API's error envelope. Query-language errors and cursor-decode errors
// already carry their own code/param; an archive not_found (ledger not yet
// published) is a 404, any other archive error is a 503 (upstream archive
// exhausted its retry budget), and everything else is an opaque 500.
func mapError(err error, param string) *apiError {
	var aerr *apiError
	if errors.As(err, &aerr) {
		return aerr
	}

	var qerr *query.Error
	if errors.As(err, &qerr) {
		return newAPIError(http.StatusBadRequest, qerr.Code, qerr.Param, qerr.Message)
	}

	if errors.Is(err, cursor.ErrInvalid) {
		return newAPIError(http.StatusBadRequest, "invalid_cursor", param, err.Error())
	}

	var archErr *archive.Error
	if errors.As(err, &archErr) {
		if archErr.Kind == archive.KindNotFound {
			return newAPIError(http.StatusNotFound, "not_found", param, "ledger not found in archive")
		}
		return newAPIError(http.StatusServiceUnavailable, "upstream_unavailable", param, archErr.Error())
	}

	return newAPIError(http.StatusInternalServerError, "internal_error", "", "internal error")
}

func writeError(w http.ResponseWriter, err *apiError) {
	writeJSON(w, err.Status, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "invalid_request_error",
			"code":    err.Code,
			"message": err.Message,
			"param":   err.Param,
		},
	})
}
