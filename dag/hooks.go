package dag

import "fmt"

// Event identifies the moment a hook is invoked.
type Event int

const (
	// BeforeIdentity runs on the pending node before an id is derived. The
	// hook may set the id with Node.SetID.
	BeforeIdentity Event = iota
	// AfterCommit runs once the node is indexed and the branch advanced.
	AfterCommit
	// AfterAttach runs with the splice node once a detached graph is merged.
	// The attach may have materialized the splice node's payload.
	AfterAttach
	// AfterMaterialize runs when Materialize memoizes a payload on a node.
	AfterMaterialize
)

func (e Event) String() string {
	switch e {
	case BeforeIdentity:
		return "before_identity"
	case AfterCommit:
		return "after_commit"
	case AfterAttach:
		return "after_attach"
	case AfterMaterialize:
		return "after_materialize"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Hook is notified of graph events. A non-nil error aborts the operation
// and the graph is restored to its previous state.
type Hook[P any] interface {
	OnEvent(ev Event, g *Graph[P], n *Node[P]) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc[P any] func(ev Event, g *Graph[P], n *Node[P]) error

func (f HookFunc[P]) OnEvent(ev Event, g *Graph[P], n *Node[P]) error {
	return f(ev, g, n)
}

func (g *Graph[P]) fire(ev Event, n *Node[P]) error {
	for _, h := range g.hooks {
		if err := h.OnEvent(ev, g, n); err != nil {
			return fmt.Errorf("%s hook: %w", ev, err)
		}
	}
	return nil
}
