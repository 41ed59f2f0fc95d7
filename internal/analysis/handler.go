package analysis

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes registers the stream API under r.
func (o *Observer) Routes(r chi.Router) {
	r.Get("/streams", o.listStreams)
	r.Get("/streams/{alias}", o.getStream)
}

func (o *Observer) listStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, o.Streams())
}

func (o *Observer) getStream(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	v, ok := o.Stream(alias)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "stream not found: " + alias})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
