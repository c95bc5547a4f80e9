package auth

import (
	"encoding/json"
	"net/http"
)

// Me returns the API key the request authenticated with.
func Me(w http.ResponseWriter, r *http.Request) {
	key := KeyFrom(r.Context())
	if key == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(key)
}
