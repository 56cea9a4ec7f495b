package dag

import "errors"

var (
	// ErrDuplicateIdentity is returned when a commit or attach would reuse an
	// id or branch name already present in the graph.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrBranchExists is returned when a branch name is already in use.
	ErrBranchExists = errors.New("branch already exists")

	// ErrNotFound is returned when a name resolves to neither a node nor a branch.
	ErrNotFound = errors.New("node or branch not found")

	// ErrUnreconstructibleRoot means a node without payload has no parent to
	// recompute it from. This is a broken invariant, not a transient failure.
	ErrUnreconstructibleRoot = errors.New("root node has no payload")

	// ErrNoTransitionFunction is returned when a deferred payload must be
	// rebuilt but the graph has no transition function.
	ErrNoTransitionFunction = errors.New("no transition function configured")

	// ErrMissingParam is returned when a commit lacks a required transition
	// parameter.
	ErrMissingParam = errors.New("missing transition parameter")

	// ErrInvalidName is returned for empty names where one is required.
	ErrInvalidName = errors.New("invalid name")

	// ErrSealed is returned by Node.SetID once the node is part of a graph.
	ErrSealed = errors.New("node id is sealed")
)
