package api

import "net/http"

// PingMessage is the body returned by the admin liveness endpoint.
const PingMessage = "pong from laundromat"

// RegisterPing adds an unauthenticated GET /ping to the admin mux.
func RegisterPing(mux *http.ServeMux) {
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "GET required")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"msg": PingMessage})
	})
}
