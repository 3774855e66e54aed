package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first so headers are only sent after successful encoding.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("failed to write response body", "error", err)
	}
}

// writeError maps err to its HTTP status and public message. Unclassified
// errors surface as 500 with a generic message and get logged in full.
func writeError(w http.ResponseWriter, logger log.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, logger, kind.HTTPStatus(), errorBody{
		Detail: errorDetail{Message: apperr.PublicMessage(err)},
	})
}
