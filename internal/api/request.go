package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/DARPAI/portal-backend/internal/apperr"
)

// maxBodyBytes bounds request bodies. Turn requests carry a single user
// message, so 1 MiB is generous.
const maxBodyBytes = 1 << 20

// decodeJSON decodes the request body into dst, rejecting unknown fields
// and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.InvalidInput("Request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperr.InvalidInput("Request body is required")
		}
		return apperr.InvalidInput("Invalid request body")
	}
	return nil
}

// pathUUID parses the named path segment as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput(fmt.Sprintf("Invalid %s", name))
	}
	return id, nil
}

// currentUserID extracts the current_user_id query parameter. Identity is
// declared, not authenticated; authentication sits in front of this
// service.
func currentUserID(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("current_user_id")
	if raw == "" {
		return uuid.Nil, apperr.InvalidInput("current_user_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("Invalid current_user_id")
	}
	return id, nil
}

// pathInt64 parses the named path segment as an int64.
func pathInt64(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, apperr.InvalidInput(fmt.Sprintf("Invalid %s", name))
	}
	return id, nil
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperr.InvalidInput(fmt.Sprintf("Invalid %s", name))
	}
	return v, nil
}
