package handlers

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"popgraph/dag"
	"popgraph/dna"
)

// CommitRequest is the body of POST /commits. Params are always required
// since a deferred payload is rebuilt from them. Payload, when set, is kept
// only if the snapshot policy stores this node.
type CommitRequest struct {
	ID           string         `json:"id" validate:"omitempty,max=128"`
	Params       map[string]any `json:"params" validate:"required"`
	Payload      *string        `json:"payload" validate:"omitempty,strand"`
	Contributors []string       `json:"contributors" validate:"dive,required"`
	Timestep     int            `json:"timestep" validate:"gte=0"`
}

// NameRequest is the body of POST /branches and POST /checkout.
type NameRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

// NodeView is the JSON form of a node.
type NodeView struct {
	ID           string      `json:"id"`
	Parent       string      `json:"parent,omitempty"`
	Children     []string    `json:"children"`
	Contributors []string    `json:"contributors,omitempty"`
	Params       dag.Params  `json:"params,omitempty"`
	Payload      *dna.Strand `json:"payload,omitempty"`
	Materialized bool        `json:"materialized"`
	Depth        int         `json:"depth"`
	Branch       string      `json:"branch"`
	Timestep     int         `json:"timestep"`
	CreatedAt    int64       `json:"created_at"`
}

type BranchView struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

func viewOf(n *dag.Node[dna.Strand]) NodeView {
	v := NodeView{
		ID:           n.ID(),
		Parent:       n.Parent(),
		Children:     n.Children(),
		Contributors: n.Contributors(),
		Params:       n.Params(),
		Materialized: n.Materialized(),
		Depth:        n.Depth(),
		Branch:       n.BranchLabel(),
		Timestep:     n.Timestep(),
		CreatedAt:    n.CreatedAt(),
	}
	if p, ok := n.Payload(); ok {
		v.Payload = &p
	}
	if v.Children == nil {
		v.Children = []string{}
	}
	return v
}

func viewsOf(nodes []*dag.Node[dna.Strand]) []NodeView {
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, viewOf(n))
	}
	return out
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("strand", validateStrand)
	return v
}

// validateStrand accepts non-empty strings over the DNA alphabet.
func validateStrand(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune(dna.Alphabet, c) {
			return false
		}
	}
	return true
}
