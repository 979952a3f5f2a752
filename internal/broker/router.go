package broker

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"deskctl/internal/broker/handlers"
	"deskctl/internal/broker/middleware"
)

// NewRouter wires the broker's HTTP surface: the websocket upgrade
// endpoint every connection enters through, plus a small admin REST
// surface for dashboards that don't speak the wire protocol.
func NewRouter(hub *Hub, version string) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.HandleFunc("/connect", func(w http.ResponseWriter, req *http.Request) {
		ServeWS(hub, w, req)
	})

	r.HandleFunc("/health", HealthHandler(version)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	api.Use(limiter.RateLimit)
	api.HandleFunc("/health", HealthHandler(version)).Methods(http.MethodGet)
	api.HandleFunc("/clients", listClientsHandler(hub)).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}", getClientHandler(hub)).Methods(http.MethodGet)
	api.HandleFunc("/stats", statsHandler(hub)).Methods(http.MethodGet)

	return r
}

func listClientsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlers.SendJSON(w, http.StatusOK, map[string]any{
			"clients": hub.Snapshot(),
		})
	}
}

func getClientHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			handlers.SendError(w, http.StatusBadRequest, handlers.ErrCodeInvalidRequest, "client id must be numeric")
			return
		}
		for _, info := range hub.Snapshot() {
			if info.ID == id {
				handlers.SendJSON(w, http.StatusOK, info)
				return
			}
		}
		handlers.SendError(w, http.StatusNotFound, handlers.ErrCodeNotFound, "no such client")
	}
}

func statsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byRole := map[string]int{}
		for _, info := range hub.Snapshot() {
			byRole[info.Role]++
		}
		handlers.SendJSON(w, http.StatusOK, map[string]any{
			"connections":          hub.ConnCount(),
			"connections_by_role":  byRole,
			"pending_correlations": hub.PendingCount(),
		})
	}
}
