package models

// Node is the stored form of a commit.
type Node struct {
	ID           string         `json:"id"`                     // unique id
	Parent       string         `json:"parent,omitempty"`       // parent node ID, empty for the root
	Contributors []string       `json:"contributors,omitempty"` // other nodes the transition read from
	Params       map[string]any `json:"params,omitempty"`       // transition parameters
	Payload      []byte         `json:"payload,omitempty"`      // encoded payload, empty when deferred
	Materialized bool           `json:"materialized"`
	Depth        int            `json:"depth"`
	Branch       string         `json:"branch"` // branch the node was committed on
	Timestep     int            `json:"timestep"`
	CreatedAt    int64          `json:"created_at"` // unix timestamp in ms
	Seq          uint64         `json:"seq"`
	Ordinal      uint64         `json:"ordinal"` // insertion rank, orders siblings and generations
}

// Branch is a named pointer at a node.
type Branch struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}
