// Package responders writes JSON bodies for the admin and health endpoints.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with status code and payload.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// List writes a 200 with items under key next to their count.
// A nil slice is sent as [] so clients never see null.
func List[T any](w http.ResponseWriter, key string, items []T) {
	if items == nil {
		items = []T{}
	}
	JSON(w, http.StatusOK, map[string]any{
		key:     items,
		"count": len(items),
	})
}
