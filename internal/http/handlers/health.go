package handlers

import "net/http"

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"websocket_clients": api.updates.Clients(),
	})
}
