package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"popgraph/models"
)

// RedisRepository implements NodeRepositoryInterface on Redis. Nodes are
// JSON strings indexed by a set, branches live in one hash and checkpoints
// are indexed by a sorted set scored by revision.
type RedisRepository struct {
	client  *backend.Client
	prefix  string
	timeout time.Duration
}

type RedisOption func(*RedisRepository)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		r.prefix = prefix
	}
}

// WithTimeout bounds every Redis round trip.
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisRepository) {
		r.timeout = d
	}
}

// NewRedisRepository connects to the Redis server at address.
func NewRedisRepository(address, password string, db int, opts ...RedisOption) *RedisRepository {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisRepositoryFromClient(rdb, opts...)
}

// NewRedisRepositoryFromClient wraps an existing client.
func NewRedisRepositoryFromClient(client *backend.Client, opts ...RedisOption) *RedisRepository {
	r := &RedisRepository{
		client:  client,
		prefix:  "popgraph:",
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRepository) nodeKey(id string) string       { return r.prefix + "node:" + id }
func (r *RedisRepository) nodeIndexKey() string           { return r.prefix + "nodes" }
func (r *RedisRepository) branchesKey() string            { return r.prefix + "branches" }
func (r *RedisRepository) checkpointKey(id string) string { return r.prefix + "checkpoint:" + id }
func (r *RedisRepository) checkpointIndexKey() string     { return r.prefix + "checkpoints" }

func (r *RedisRepository) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Ping checks the connection.
func (r *RedisRepository) Ping() error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Apply queues every write of the batch in one MULTI/EXEC transaction.
func (r *RedisRepository) Apply(b *Batch) error {
	ctx, cancel := r.ctx()
	defer cancel()

	pipe := r.client.TxPipeline()
	for _, node := range b.Nodes {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("failed to marshal node: %w", err)
		}
		pipe.Set(ctx, r.nodeKey(node.ID), data, 0)
		pipe.SAdd(ctx, r.nodeIndexKey(), node.ID)
	}
	for _, br := range b.Branches {
		pipe.HSet(ctx, r.branchesKey(), br.Name, br.Target)
	}
	if cp := b.Checkpoint; cp != nil {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		pipe.Set(ctx, r.checkpointKey(cp.ID), data, 0)
		pipe.ZAdd(ctx, r.checkpointIndexKey(), backend.Z{
			Score:  float64(cp.Revision),
			Member: cp.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to apply batch to redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) PutNode(node *models.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node: %w", err)
	}
	ctx, cancel := r.ctx()
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.nodeKey(node.ID), data, 0)
	pipe.SAdd(ctx, r.nodeIndexKey(), node.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save node to redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetNode(id string) (*models.Node, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	val, err := r.client.Get(ctx, r.nodeKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node from redis: %w", err)
	}
	var node models.Node
	if err := json.Unmarshal(val, &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	return &node, nil
}

func (r *RedisRepository) GetAllNodes() ([]*models.Node, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	ids, err := r.client.SMembers(ctx, r.nodeIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.nodeKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes from redis: %w", err)
	}

	nodes := make([]*models.Node, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: indexed node %s has no value", ErrNodeNotFound, ids[i])
		}
		var node models.Node
		if err := json.Unmarshal([]byte(s), &node); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node: %w", err)
		}
		nodes = append(nodes, &node)
	}
	return nodes, nil
}

func (r *RedisRepository) PutBranch(b *models.Branch) error {
	ctx, cancel := r.ctx()
	defer cancel()
	return r.client.HSet(ctx, r.branchesKey(), b.Name, b.Target).Err()
}

func (r *RedisRepository) GetBranches() ([]*models.Branch, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	all, err := r.client.HGetAll(ctx, r.branchesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	branches := make([]*models.Branch, 0, len(all))
	for name, target := range all {
		branches = append(branches, &models.Branch{Name: name, Target: target})
	}
	return branches, nil
}

func (r *RedisRepository) PutCheckpoint(cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	ctx, cancel := r.ctx()
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.checkpointKey(cp.ID), data, 0)
	pipe.ZAdd(ctx, r.checkpointIndexKey(), backend.Z{
		Score:  float64(cp.Revision),
		Member: cp.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetLatestCheckpoint() (*models.Checkpoint, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	ids, err := r.client.ZRevRange(ctx, r.checkpointIndexKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	val, err := r.client.Get(ctx, r.checkpointKey(ids[0])).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s: %w", ids[0], err)
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(val, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Close closes the redis client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
