package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"popgraph/db"
	"popgraph/models"
)

// ErrNodeNotFound is returned by GetNode for unknown ids.
var ErrNodeNotFound = errors.New("node not found")

const (
	nodePrefix       = "node:"
	branchPrefix     = "branch:"
	checkpointPrefix = "checkpoint:"
)

// Batch holds the records written for one graph change. Apply stores all of
// them or none.
type Batch struct {
	Nodes      []*models.Node
	Branches   []*models.Branch
	Checkpoint *models.Checkpoint
}

// It abstracts the storage layer from the business logic
type NodeRepositoryInterface interface {
	Apply(b *Batch) error
	PutNode(node *models.Node) error
	GetNode(id string) (*models.Node, error)
	GetAllNodes() ([]*models.Node, error)
	PutBranch(b *models.Branch) error
	GetBranches() ([]*models.Branch, error)
	PutCheckpoint(cp *models.Checkpoint) error
	// GetLatestCheckpoint returns nil, nil when no checkpoint was written.
	GetLatestCheckpoint() (*models.Checkpoint, error)
}

// NodeRepository implements the NodeRepositoryInterface using LevelDB as the storage backend
type NodeRepository struct {
	db *db.LevelDB
}

// NewNodeRepository creates and returns a new NodeRepository instance
func NewNodeRepository(db *db.LevelDB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Apply writes the whole batch in one LevelDB write
func (r *NodeRepository) Apply(b *Batch) error {
	pairs := make(map[string][]byte, len(b.Nodes)+len(b.Branches)+1)
	for _, node := range b.Nodes {
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		pairs[nodePrefix+node.ID] = data
	}
	for _, br := range b.Branches {
		pairs[branchPrefix+br.Name] = []byte(br.Target)
	}
	if b.Checkpoint != nil {
		data, err := json.Marshal(b.Checkpoint)
		if err != nil {
			return err
		}
		pairs[checkpointPrefix+b.Checkpoint.ID] = data
	}
	return r.db.PutAll(pairs)
}

// PutNode stores a node in the LevelDB storage
func (r *NodeRepository) PutNode(node *models.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(nodePrefix+node.ID), data)
}

// GetNode retrieves a node from LevelDB storage by its ID
func (r *NodeRepository) GetNode(id string) (*models.Node, error) {
	data, err := r.db.Get([]byte(nodePrefix + id))
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var node models.Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// GetAllNodes retrieves all nodes from the LevelDB storage
func (r *NodeRepository) GetAllNodes() ([]*models.Node, error) {
	iter := r.db.NewPrefixIterator([]byte(nodePrefix))
	defer iter.Release()

	var nodes []*models.Node
	for iter.Next() {
		var node models.Node
		if err := json.Unmarshal(iter.Value(), &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, iter.Error()
}

// PutBranch moves (or creates) a branch pointer
func (r *NodeRepository) PutBranch(b *models.Branch) error {
	return r.db.Put([]byte(branchPrefix+b.Name), []byte(b.Target))
}

// GetBranches lists every stored branch pointer
func (r *NodeRepository) GetBranches() ([]*models.Branch, error) {
	iter := r.db.NewPrefixIterator([]byte(branchPrefix))
	defer iter.Release()

	var branches []*models.Branch
	for iter.Next() {
		branches = append(branches, &models.Branch{
			Name:   string(iter.Key()[len(branchPrefix):]),
			Target: string(iter.Value()),
		})
	}
	return branches, iter.Error()
}

// Creates a new checkpoint by storing the current state of the DAG
func (r *NodeRepository) PutCheckpoint(cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	key := []byte(checkpointPrefix + cp.ID)
	return r.db.Put(key, data)
}

// Retrieves the most recent checkpoint to restore the DAG state
func (r *NodeRepository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	iter := r.db.NewPrefixIterator([]byte(checkpointPrefix))
	defer iter.Release()

	var latest *models.Checkpoint
	for iter.Next() {
		var cp models.Checkpoint
		if err := json.Unmarshal(iter.Value(), &cp); err != nil {
			return nil, err
		}
		if latest == nil || cp.Revision > latest.Revision {
			latest = &cp
		}
	}
	return latest, iter.Error()
}
