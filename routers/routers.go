package routers

import (
	"popgraph/handlers"
	"popgraph/metrics"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the lineage store
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	registerGraphRoutes(r, h)

	// Lists open workspaces
	r.HandleFunc("/workspaces", h.ListWorkspaces).Methods("GET")

	// Merges a workspace back into the graph it was detached from
	r.HandleFunc("/workspaces/{workspace}/attach", h.Attach).Methods("POST")

	// Drops a workspace without merging it
	r.HandleFunc("/workspaces/{workspace}", h.DiscardWorkspace).Methods("DELETE")

	// The same graph operations, addressed to a workspace
	registerGraphRoutes(r.PathPrefix("/workspaces/{workspace}").Subrouter(), h)
}

// RegisterMetrics exposes the Prometheus registry on /metrics
func RegisterMetrics(r *mux.Router, c *metrics.Collectors) {
	r.Handle("/metrics", c.Handler()).Methods("GET")
}

func registerGraphRoutes(r *mux.Router, h *handlers.Handler) {

	// Adds a node on the active branch
	r.HandleFunc("/commits", h.Commit).Methods("POST")

	// Creates a branch at the active node and checks it out
	r.HandleFunc("/branches", h.CreateBranch).Methods("POST")
	r.HandleFunc("/branches", h.ListBranches).Methods("GET")

	// Moves to a branch, or to a node by id
	r.HandleFunc("/checkout", h.Checkout).Methods("POST")

	r.HandleFunc("/head", h.GetHead).Methods("GET")

	// Returns a node with its payload, rebuilt from ancestors when deferred
	r.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")

	r.HandleFunc("/lineage", h.GetLineage).Methods("GET")
	r.HandleFunc("/lineage/{name}", h.GetLineage).Methods("GET")

	// "current" must be registered before the numeric depth
	r.HandleFunc("/generations/current", h.GetCurrentGeneration).Methods("GET")
	r.HandleFunc("/generations/{depth}", h.GetGeneration).Methods("GET")

	r.HandleFunc("/flatten", h.Flatten).Methods("GET")

	// Splits the active node off into a new workspace
	r.HandleFunc("/detach", h.Detach).Methods("POST")
}
