package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"popgraph/dag"
	"popgraph/dna"
	"popgraph/logger"
	"popgraph/metrics"
)

// ErrWorkspaceInUse is returned when discarding a workspace that other
// workspaces were detached from.
var ErrWorkspaceInUse = errors.New("workspace has nested workspaces")

// Syncer persists graph changes that fire no hook, such as Branch and
// Checkout.
type Syncer interface {
	Sync(g *dag.Graph[dna.Strand]) error
}

type workspace struct {
	graph *dag.Graph[dna.Strand]
	// origin is the workspace the graph was detached from, empty for main.
	origin    string
	createdAt int64
}

// Handler contains the HTTP handlers for the lineage API. Requests are
// served one at a time.
type Handler struct {
	mu         sync.Mutex
	Graph      *dag.Graph[dna.Strand]
	workspaces map[string]*workspace

	store    Syncer
	metrics  *metrics.Collectors
	validate *validator.Validate
}

// NewHandler creates and returns a new Handler instance. store and m may
// be nil.
func NewHandler(g *dag.Graph[dna.Strand], store Syncer, m *metrics.Collectors) *Handler {
	if m != nil {
		m.Nodes.Set(float64(g.Len()))
	}
	return &Handler{
		Graph:      g,
		workspaces: make(map[string]*workspace),
		store:      store,
		metrics:    m,
		validate:   newValidator(),
	}
}

// graphFor resolves the graph addressed by the request: a workspace when
// the route carries one, the main graph otherwise.
func (h *Handler) graphFor(r *http.Request) (*dag.Graph[dna.Strand], bool, error) {
	id, ok := mux.Vars(r)["workspace"]
	if !ok {
		return h.Graph, true, nil
	}
	ws, ok := h.workspaces[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: workspace %q", dag.ErrNotFound, id)
	}
	return ws.graph, false, nil
}

// sync persists the main graph after a change that fired no hook. On
// failure the graph's refs are reset to refs.
func (h *Handler) sync(g *dag.Graph[dna.Strand], main bool, refs dag.Refs) error {
	if !main || h.store == nil {
		return nil
	}
	if err := h.store.Sync(g); err != nil {
		g.ResetRefs(refs)
		return err
	}
	return nil
}

// Commit handles POST requests that add a node on the active branch
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	change := dag.Change[dna.Strand]{
		ID:           req.ID,
		Params:       req.Params,
		Contributors: req.Contributors,
		Timestep:     req.Timestep,
	}
	if req.Payload != nil {
		p := dna.Strand(*req.Payload)
		change.Payload = &p
	}

	id, err := g.Commit(change)
	if err != nil {
		logger.Logger.Error("Failed to commit node", zap.Error(err))
		writeError(w, err)
		return
	}
	node, _ := g.Node(id)

	logger.Logger.Info("Committed node",
		zap.String("node_id", id),
		zap.String("branch", g.ActiveBranch()),
		zap.Strings("contributors", req.Contributors))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Node committed successfully",
		"node":    viewOf(node),
	})
}

// CreateBranch creates a branch at the active node and checks it out
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, main, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	refs := g.Refs()
	name, err := g.Branch(req.Name)
	if err != nil {
		logger.Logger.Error("Failed to create branch", zap.String("branch", req.Name), zap.Error(err))
		writeError(w, err)
		return
	}
	if err := h.sync(g, main, refs); err != nil {
		logger.Logger.Error("Failed to persist branch", zap.String("branch", name), zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"branch": name,
		"head":   g.Head().ID(),
	})
}

// ListBranches returns every branch with the node it points at
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	names := g.Branches()
	branches := make([]BranchView, 0, len(names))
	for _, name := range names {
		tip, _ := g.BranchTip(name)
		branches = append(branches, BranchView{Name: name, Target: tip})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   g.ActiveBranch(),
		"branches": branches,
	})
}

// Checkout moves to a branch or to a node by id
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, main, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	refs := g.Refs()
	branch, err := g.Checkout(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sync(g, main, refs); err != nil {
		logger.Logger.Error("Failed to persist checkout", zap.Error(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"branch": branch,
		"head":   g.Head().ID(),
	})
}

// GetHead returns the active node
func (h *Handler) GetHead(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"branch": g.ActiveBranch(),
		"node":   viewOf(g.Head()),
	})
}

// GetNode returns a node with its payload, rebuilt when deferred. With
// ?persist=true the rebuilt payload is kept on the node.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	persist := false
	if raw := r.URL.Query().Get("persist"); raw != "" {
		var err error
		if persist, err = strconv.ParseBool(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid persist flag"})
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	name := mux.Vars(r)["id"]
	node, err := g.Node(name)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	payload, err := g.Materialize(name, persist)
	if err != nil {
		logger.Logger.Error("Failed to materialize node", zap.String("node_id", name), zap.Error(err))
		writeError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveMaterialize(start, persist)
	}

	view := viewOf(node)
	view.Payload = &payload
	writeJSON(w, http.StatusOK, map[string]interface{}{"node": view})
}

// GetLineage returns the ancestors of a node, most recent first. Without a
// name the active node is used.
func (h *Handler) GetLineage(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	nodes, err := g.Lineage(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"nodes": viewsOf(nodes)})
}

// GetGeneration returns the nodes at a depth. Negative depths count back
// from the deepest generation.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	depth, err := strconv.Atoi(mux.Vars(r)["depth"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid depth"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth": depth,
		"nodes": viewsOf(g.Generation(depth)),
	})
}

// GetCurrentGeneration returns the generation of the active node
func (h *Handler) GetCurrentGeneration(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth": g.Head().Depth(),
		"nodes": viewsOf(g.CurrentGeneration()),
	})
}

// Flatten returns the descendants of ?from (the root by default) in
// pre-order
func (h *Handler) Flatten(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, _, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	nodes, err := g.Flatten(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":  g.Root().ID(),
		"depth": g.Depth(),
		"nodes": viewsOf(nodes),
	})
}

// Detach splits the active node off into a new workspace
func (h *Handler) Detach(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, main, err := h.graphFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	refs := g.Refs()
	d, err := g.Detach()
	if err != nil {
		logger.Logger.Error("Failed to detach", zap.Error(err))
		writeError(w, err)
		return
	}
	if err := h.sync(g, main, refs); err != nil {
		logger.Logger.Error("Failed to persist detach", zap.Error(err))
		writeError(w, err)
		return
	}

	id := uuid.NewString()
	h.workspaces[id] = &workspace{
		graph:     d,
		origin:    mux.Vars(r)["workspace"],
		createdAt: time.Now().UnixMilli(),
	}
	h.observeWorkspaces()

	logger.Logger.Info("Detached workspace",
		zap.String("workspace", id),
		zap.String("root_id", d.Root().ID()))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"workspace": id,
		"root":      d.Root().ID(),
		"branch":    d.ActiveBranch(),
	})
}

// ListWorkspaces returns the open workspaces
func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type item struct {
		ID        string `json:"id"`
		Origin    string `json:"origin,omitempty"`
		Root      string `json:"root"`
		Nodes     int    `json:"nodes"`
		CreatedAt int64  `json:"created_at"`
	}
	items := make([]item, 0, len(h.workspaces))
	for id, ws := range h.workspaces {
		items = append(items, item{
			ID:        id,
			Origin:    ws.origin,
			Root:      ws.graph.Root().ID(),
			Nodes:     ws.graph.Len(),
			CreatedAt: ws.createdAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"workspaces": items})
}

// Attach merges a workspace back into the graph it was detached from and
// closes it
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := mux.Vars(r)["workspace"]
	ws, ok := h.workspaces[id]
	if !ok {
		writeError(w, fmt.Errorf("%w: workspace %q", dag.ErrNotFound, id))
		return
	}
	target := h.Graph
	if ws.origin != "" {
		origin, ok := h.workspaces[ws.origin]
		if !ok {
			writeError(w, fmt.Errorf("%w: origin workspace %q", dag.ErrNotFound, ws.origin))
			return
		}
		target = origin.graph
	}

	before := make(map[string]bool)
	for _, name := range target.Branches() {
		before[name] = true
	}
	if err := target.Attach(ws.graph); err != nil {
		logger.Logger.Error("Failed to attach workspace", zap.String("workspace", id), zap.Error(err))
		writeError(w, err)
		return
	}
	delete(h.workspaces, id)
	// workspaces detached from this one now hang off its target
	for _, nested := range h.workspaces {
		if nested.origin == id {
			nested.origin = ws.origin
		}
	}
	h.observeWorkspaces()

	var added []string
	for _, name := range target.Branches() {
		if !before[name] {
			added = append(added, name)
		}
	}

	logger.Logger.Info("Attached workspace",
		zap.String("workspace", id),
		zap.Strings("branches", added))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Workspace attached successfully",
		"branches": added,
	})
}

// DiscardWorkspace drops a workspace without merging it
func (h *Handler) DiscardWorkspace(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := mux.Vars(r)["workspace"]
	if _, ok := h.workspaces[id]; !ok {
		writeError(w, fmt.Errorf("%w: workspace %q", dag.ErrNotFound, id))
		return
	}
	for nestedID, nested := range h.workspaces {
		if nested.origin == id {
			writeError(w, fmt.Errorf("%w: %q was detached from %q", ErrWorkspaceInUse, nestedID, id))
			return
		}
	}
	delete(h.workspaces, id)
	h.observeWorkspaces()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) observeWorkspaces() {
	if h.metrics != nil {
		h.metrics.Workspaces.Set(float64(len(h.workspaces)))
	}
}

// decode reads and validates a JSON body. It writes the error response
// itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Logger.Error("Failed to decode request", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid request payload",
		})
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, dag.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dag.ErrDuplicateIdentity),
		errors.Is(err, dag.ErrBranchExists),
		errors.Is(err, ErrWorkspaceInUse):
		return http.StatusConflict
	case errors.Is(err, dag.ErrInvalidName),
		errors.Is(err, dag.ErrMissingParam),
		errors.Is(err, dag.ErrNoTransitionFunction),
		errors.Is(err, dag.ErrUnreconstructibleRoot),
		errors.Is(err, dna.ErrBadParams),
		errors.Is(err, dna.ErrNoPartner),
		errors.Is(err, dna.ErrLengthDrift):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
