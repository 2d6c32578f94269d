// Package httpx holds the JSON response helpers shared by the HTTP layers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appErrors "github.com/unclebandit/leadflow-backend/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps err to its HTTP status. The body carries err.Error() only.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, appErrors.HTTPStatus(err), map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// DecodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}
