// Package persistence mirrors a graph into a repository through graph hooks
// and rebuilds it on startup.
package persistence

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"popgraph/dag"
	"popgraph/logger"
	"popgraph/models"
	"popgraph/repository"
)

// ErrEmpty is returned by Load when the repository holds no nodes.
var ErrEmpty = errors.New("repository is empty")

// Store writes graph changes to a repository. Register it as a hook on the
// graph it persists. A Store must not be shared between graphs.
type Store[P any] struct {
	repo     repository.NodeRepositoryInterface
	codec    Codec[P]
	revision uint64
}

func NewStore[P any](repo repository.NodeRepositoryInterface, codec Codec[P]) *Store[P] {
	return &Store[P]{repo: repo, codec: codec}
}

// OnEvent implements dag.Hook. Each event is written as one repository
// batch.
func (s *Store[P]) OnEvent(ev dag.Event, g *dag.Graph[P], n *dag.Node[P]) error {
	b := &repository.Batch{}
	switch ev {
	case dag.AfterCommit:
		if err := s.addNode(b, n); err != nil {
			return err
		}
		b.Branches = append(b.Branches, &models.Branch{Name: g.ActiveBranch(), Target: n.ID()})
		return s.apply(b, g)

	case dag.AfterAttach:
		// the splice node may have been materialized by the attach
		nodes, err := g.Flatten(n.ID())
		if err != nil {
			return err
		}
		for _, m := range append([]*dag.Node[P]{n}, nodes...) {
			if err := s.addNode(b, m); err != nil {
				return err
			}
		}
		s.addBranches(b, g)
		return s.apply(b, g)

	case dag.AfterMaterialize:
		if err := s.addNode(b, n); err != nil {
			return err
		}
		if err := s.repo.Apply(b); err != nil {
			return fmt.Errorf("storing node %s: %w", n.ID(), err)
		}
	}
	return nil
}

// Sync writes the root, every branch pointer and a checkpoint. Call it
// after operations that fire no hook, such as Branch and Checkout, and once
// after creating a fresh graph.
func (s *Store[P]) Sync(g *dag.Graph[P]) error {
	b := &repository.Batch{}
	if err := s.addNode(b, g.Root()); err != nil {
		return err
	}
	s.addBranches(b, g)
	return s.apply(b, g)
}

// Load rebuilds the stored graph. cfg supplies the transition function and
// hooks; it should include s so later changes keep being persisted.
func (s *Store[P]) Load(cfg dag.Config[P]) (*dag.Graph[P], error) {
	stored, err := s.repo.GetAllNodes()
	if err != nil {
		return nil, fmt.Errorf("reading nodes: %w", err)
	}
	if len(stored) == 0 {
		return nil, ErrEmpty
	}

	// parents sort before children since depth grows along every edge;
	// ordinals keep siblings and generations in insertion order
	slices.SortFunc(stored, func(a, b *models.Node) int {
		return cmp.Or(
			cmp.Compare(a.Depth, b.Depth),
			cmp.Compare(a.Ordinal, b.Ordinal),
			cmp.Compare(a.Seq, b.Seq),
			cmp.Compare(a.ID, b.ID),
		)
	})

	var maxSeq uint64

	st := dag.State[P]{
		Nodes:    make([]dag.Record[P], 0, len(stored)),
		Branches: make(map[string]string),
	}
	for _, m := range stored {
		r, err := s.record(m)
		if err != nil {
			return nil, err
		}
		st.Nodes = append(st.Nodes, r)
		maxSeq = max(maxSeq, m.Seq)
	}

	branches, err := s.repo.GetBranches()
	if err != nil {
		return nil, fmt.Errorf("reading branches: %w", err)
	}
	for _, b := range branches {
		st.Branches[b.Name] = b.Target
	}

	cp, err := s.repo.GetLatestCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if cp != nil {
		st.Meta = dag.Meta{
			Head:         cp.Head,
			ActiveBranch: cp.ActiveBranch,
			Seq:          cp.Seq,
			Lane:         cp.Lane,
			Detaches:     cp.Detaches,
		}
		s.revision = cp.Revision
	}
	// never reuse a sequence number a stored node already derived its id from
	st.Seq = max(st.Seq, maxSeq)

	g, err := dag.Restore(cfg, st)
	if err != nil {
		return nil, err
	}
	logger.Logger.Info("Restored graph from repository",
		zap.Int("nodes", g.Len()),
		zap.Int("branches", len(st.Branches)),
		zap.String("head", g.Head().ID()))
	return g, nil
}

func (s *Store[P]) addNode(b *repository.Batch, n *dag.Node[P]) error {
	m := &models.Node{
		ID:           n.ID(),
		Parent:       n.Parent(),
		Contributors: n.Contributors(),
		Params:       n.Params(),
		Depth:        n.Depth(),
		Branch:       n.BranchLabel(),
		Timestep:     n.Timestep(),
		CreatedAt:    n.CreatedAt(),
		Seq:          n.Seq(),
		Ordinal:      n.Ordinal(),
	}
	if p, ok := n.Payload(); ok {
		data, err := s.codec.Encode(p)
		if err != nil {
			return fmt.Errorf("encoding node %s: %w", n.ID(), err)
		}
		m.Payload = data
		m.Materialized = true
	}
	b.Nodes = append(b.Nodes, m)
	return nil
}

func (s *Store[P]) addBranches(b *repository.Batch, g *dag.Graph[P]) {
	for _, name := range g.Branches() {
		tip, _ := g.BranchTip(name)
		b.Branches = append(b.Branches, &models.Branch{Name: name, Target: tip})
	}
}

// apply adds a checkpoint of g to the batch and writes it. The revision
// only advances once the write succeeds.
func (s *Store[P]) apply(b *repository.Batch, g *dag.Graph[P]) error {
	meta := g.Meta()
	b.Checkpoint = &models.Checkpoint{
		ID:           uuid.NewString(),
		Revision:     s.revision + 1,
		Head:         meta.Head,
		ActiveBranch: meta.ActiveBranch,
		Seq:          meta.Seq,
		Lane:         meta.Lane,
		Detaches:     meta.Detaches,
		Timestamp:    time.Now().UnixMilli(),
	}
	if err := s.repo.Apply(b); err != nil {
		return fmt.Errorf("storing %d nodes with checkpoint: %w", len(b.Nodes), err)
	}
	s.revision++
	return nil
}

func (s *Store[P]) record(m *models.Node) (dag.Record[P], error) {
	r := dag.Record[P]{
		ID:           m.ID,
		Parent:       m.Parent,
		Contributors: m.Contributors,
		Params:       dag.Params(m.Params),
		Depth:        m.Depth,
		BranchLabel:  m.Branch,
		Timestep:     m.Timestep,
		CreatedAt:    m.CreatedAt,
		Seq:          m.Seq,
		Ordinal:      m.Ordinal,
	}
	if m.Materialized {
		p, err := s.codec.Decode(m.Payload)
		if err != nil {
			return r, fmt.Errorf("decoding node %s: %w", m.ID, err)
		}
		r.Payload = &p
	}
	return r, nil
}
