package models

// Checkpoint records the graph pointers needed to resume after a restart.
// Revision increases with every checkpoint written by one writer.
type Checkpoint struct {
	ID           string `json:"id"`
	Revision     uint64 `json:"revision"`
	Head         string `json:"head"`
	ActiveBranch string `json:"active_branch"`
	Seq          uint64 `json:"seq"`
	Lane         string `json:"lane,omitempty"`
	Detaches     uint64 `json:"detaches"`
	Timestamp    int64  `json:"timestamp"` // unix timestamp in ms
}
