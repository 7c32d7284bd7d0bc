// Package httpapi implements the HTTP surface (spec §6): one handler file
// per resource, all routed through a chi.Router and funneled through a
// single error-to-status mapping.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/priceledger/pricelistd/internal/pricelisterr"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps any error to its Kind's fixed HTTP status (spec §7) and
// writes a uniform JSON error body.
func writeError(w http.ResponseWriter, err error) {
	kind := pricelisterr.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), map[string]string{
		"error":   string(kind),
		"message": err.Error(),
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return pricelisterr.NewValidation("decode request body: %v", err)
	}
	return nil
}
