package repository

import (
	"fmt"
	"sync"

	"popgraph/models"
)

// MemoryRepository keeps everything in process memory. It backs the
// "memory" storage backend and the handler tests.
type MemoryRepository struct {
	mu          sync.Mutex
	nodes       map[string]*models.Node
	branches    map[string]string
	checkpoints []*models.Checkpoint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nodes:    make(map[string]*models.Node),
		branches: make(map[string]string),
	}
}

// Apply stores the batch under one lock.
func (m *MemoryRepository) Apply(b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range b.Nodes {
		m.putNode(node)
	}
	for _, br := range b.Branches {
		m.branches[br.Name] = br.Target
	}
	if b.Checkpoint != nil {
		m.putCheckpoint(b.Checkpoint)
	}
	return nil
}

func (m *MemoryRepository) PutNode(node *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putNode(node)
	return nil
}

func (m *MemoryRepository) GetNode(id string) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	// return a copy to simulate DB retrieval
	dup := *n
	return &dup, nil
}

func (m *MemoryRepository) GetAllNodes() ([]*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		dup := *n
		res = append(res, &dup)
	}
	return res, nil
}

func (m *MemoryRepository) PutBranch(b *models.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.Name] = b.Target
	return nil
}

func (m *MemoryRepository) GetBranches() ([]*models.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*models.Branch, 0, len(m.branches))
	for name, target := range m.branches {
		res = append(res, &models.Branch{Name: name, Target: target})
	}
	return res, nil
}

func (m *MemoryRepository) PutCheckpoint(cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCheckpoint(cp)
	return nil
}

func (m *MemoryRepository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Checkpoint
	for _, cp := range m.checkpoints {
		if latest == nil || cp.Revision > latest.Revision {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	dup := *latest
	return &dup, nil
}

func (m *MemoryRepository) putNode(node *models.Node) {
	dup := *node
	m.nodes[node.ID] = &dup
}

func (m *MemoryRepository) putCheckpoint(cp *models.Checkpoint) {
	dup := *cp
	m.checkpoints = append(m.checkpoints, &dup)
}
