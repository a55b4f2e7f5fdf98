// Package services contains the application services that orchestrate node
// use cases: validate input, take the sibling group locks, run the tree
// engine inside a unit of work, then publish the resulting domain events.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/application/tree"
	"github.com/teesha-ghevariya/to-do/domain/config"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/domain/events"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
	"github.com/teesha-ghevariya/to-do/pkg/observability"
)

// maxLockAttempts bounds how often an operation re-plans its lock set when
// the tree changed between planning and acquisition.
const maxLockAttempts = 5

// errPlanStale signals that the locked groups no longer match the tree.
var errPlanStale = errors.New("lock plan is stale")

// NodeServiceConfig holds the tunables of the node service
type NodeServiceConfig struct {
	Domain      *config.DomainConfig
	LockTimeout time.Duration
}

// NodeService implements the node mutation and query use cases
type NodeService struct {
	store       ports.NodeStore // committed reads
	uow         ports.UnitOfWork
	locker      ports.GroupLocker
	engine      *tree.Engine
	publisher   ports.EventPublisher
	metrics     *observability.Collector
	cfg         *config.DomainConfig
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewNodeService creates a new node service
func NewNodeService(
	store ports.NodeStore,
	uow ports.UnitOfWork,
	locker ports.GroupLocker,
	publisher ports.EventPublisher,
	metrics *observability.Collector,
	cfg NodeServiceConfig,
	logger *zap.Logger,
) *NodeService {
	if cfg.Domain == nil {
		cfg.Domain = config.DefaultDomainConfig()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	return &NodeService{
		store:       store,
		uow:         uow,
		locker:      locker,
		engine:      tree.NewEngine(cfg.Domain),
		publisher:   publisher,
		metrics:     metrics,
		cfg:         cfg.Domain,
		lockTimeout: cfg.LockTimeout,
		logger:      logger,
	}
}

// CreateNode creates a node under in.ParentID at in.Position, appending when
// no position is given.
func (s *NodeService) CreateNode(ctx context.Context, in CreateNodeInput) (*entities.Node, error) {
	node, err := s.buildNode(in.Content, in.ParentID, in.Tags, in.Notes)
	if err != nil {
		return nil, err
	}
	expanded := true
	if in.IsExpanded != nil {
		expanded = *in.IsExpanded
	}
	node.InitFlags(in.IsCompleted, expanded, in.IsStarred)
	if !in.MirrorID.IsZero() {
		node.SetMirror(in.MirrorID)
	}

	req := ports.LockRequest{Groups: []string{in.ParentID.GroupKey()}}
	err = s.withLocks(ctx, req, func(ctx context.Context, store ports.NodeStore) error {
		return s.engine.InsertAt(ctx, store, node, in.ParentID, in.Position)
	})
	s.metrics.RecordMutation("create", err)
	if err != nil {
		return nil, err
	}

	s.metrics.AddNodesCreated(1)
	s.logger.Debug("Node created",
		zap.String("nodeID", node.ID().String()),
		zap.String("parentID", in.ParentID.String()),
		zap.Int("position", node.Position()),
	)
	s.publish(ctx, node)
	return node, nil
}

// UpdateNode changes content and/or the raw position of a node
func (s *NodeService) UpdateNode(ctx context.Context, id valueobjects.NodeID, in UpdateNodeInput) (*entities.Node, error) {
	var content valueobjects.NodeContent
	if in.Content != nil {
		var err error
		if content, err = valueobjects.NewNodeContentWithConfig(*in.Content, s.cfg); err != nil {
			return nil, err
		}
	}
	if in.Position != nil && *in.Position < 0 {
		return nil, pkgerrors.NewValidationError("position cannot be negative")
	}

	return s.mutateNode(ctx, "update", id, func(node *entities.Node) error {
		if in.Content != nil {
			if err := node.UpdateContent(content); err != nil {
				return err
			}
		}
		if in.Position != nil {
			return node.SetPosition(*in.Position)
		}
		return nil
	})
}

// ToggleComplete inverts the completed flag
func (s *NodeService) ToggleComplete(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	return s.mutateNode(ctx, "toggle_complete", id, func(node *entities.Node) error {
		node.ToggleComplete()
		return nil
	})
}

// ToggleExpand inverts the expanded flag
func (s *NodeService) ToggleExpand(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	return s.mutateNode(ctx, "toggle_expand", id, func(node *entities.Node) error {
		node.ToggleExpand()
		return nil
	})
}

// ToggleStar inverts the starred flag
func (s *NodeService) ToggleStar(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	return s.mutateNode(ctx, "toggle_star", id, func(node *entities.Node) error {
		node.ToggleStar()
		return nil
	})
}

// UpdateNotes replaces the notes of a node
func (s *NodeService) UpdateNotes(ctx context.Context, id valueobjects.NodeID, notes string) (*entities.Node, error) {
	if err := s.validateNotes(notes); err != nil {
		return nil, err
	}
	return s.mutateNode(ctx, "update_notes", id, func(node *entities.Node) error {
		node.UpdateNotes(notes)
		return nil
	})
}

// AddTag appends a tag unless the node already carries exactly that tag
func (s *NodeService) AddTag(ctx context.Context, id valueobjects.NodeID, tag string) (*entities.Node, error) {
	tag, err := valueobjects.NormalizeTag(tag, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.mutateNode(ctx, "add_tag", id, func(node *entities.Node) error {
		if len(node.Tags()) >= s.cfg.MaxTagsPerNode {
			return pkgerrors.NewValidationError(fmt.Sprintf("a node can carry at most %d tags", s.cfg.MaxTagsPerNode))
		}
		node.AddTag(tag)
		return nil
	})
}

// RemoveTag removes a tag. Removing an absent tag is not an error.
func (s *NodeService) RemoveTag(ctx context.Context, id valueobjects.NodeID, tag string) (*entities.Node, error) {
	tag, err := valueobjects.NormalizeTag(tag, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.mutateNode(ctx, "remove_tag", id, func(node *entities.Node) error {
		node.RemoveTag(tag)
		return nil
	})
}

// BatchUpdate applies every item in one unit of work. If any id is unknown
// or any item is invalid, nothing is written. Results follow input order.
func (s *NodeService) BatchUpdate(ctx context.Context, items []BatchItem) ([]*entities.Node, error) {
	if len(items) == 0 {
		return []*entities.Node{}, nil
	}
	if len(items) > s.cfg.MaxBatchSize {
		return nil, pkgerrors.NewValidationError(
			fmt.Sprintf("batch of %d items exceeds the limit of %d", len(items), s.cfg.MaxBatchSize))
	}

	contents := make([]valueobjects.NodeContent, len(items))
	tags := make([][]string, len(items))
	ids := make([]valueobjects.NodeID, len(items))
	for i, item := range items {
		if item.ID.IsZero() {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("batch item %d has no id", i))
		}
		ids[i] = item.ID
		if item.Content != nil {
			c, err := valueobjects.NewNodeContentWithConfig(*item.Content, s.cfg)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "batch item %d", i)
			}
			contents[i] = c
		}
		if item.Notes != nil {
			if err := s.validateNotes(*item.Notes); err != nil {
				return nil, pkgerrors.Wrapf(err, "batch item %d", i)
			}
		}
		if item.Tags != nil {
			normalized, err := valueobjects.NormalizeTags(item.Tags, s.cfg)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "batch item %d", i)
			}
			tags[i] = normalized
		}
	}

	var updated []*entities.Node
	err := s.withNodes(ctx, ids, func(ctx context.Context, store ports.NodeStore, _ []*entities.Node) error {
		updated = make([]*entities.Node, 0, len(items))
		for i, item := range items {
			// re-read so repeated ids see earlier items of the batch
			node, err := store.Get(ctx, item.ID)
			if err != nil {
				return err
			}
			if item.Content != nil {
				if err := node.UpdateContent(contents[i]); err != nil {
					return err
				}
			}
			if item.IsCompleted != nil {
				node.SetCompleted(*item.IsCompleted)
			}
			if item.IsExpanded != nil {
				node.SetExpanded(*item.IsExpanded)
			}
			if item.IsStarred != nil {
				node.SetStarred(*item.IsStarred)
			}
			if item.Notes != nil {
				node.UpdateNotes(*item.Notes)
			}
			if item.Tags != nil {
				node.SetTags(tags[i])
			}
			if err := store.Save(ctx, node); err != nil {
				return err
			}
			updated = append(updated, node)
		}
		return nil
	})
	s.metrics.RecordMutation("batch_update", err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, updated...)
	return updated, nil
}

// MoveNode re-parents and/or reorders a node. A zero parentID moves it to the
// root group; a nil position appends.
func (s *NodeService) MoveNode(ctx context.Context, id, parentID valueobjects.NodeID, position *int) (*entities.Node, error) {
	var moved *entities.Node
	err := s.retryPlan(ctx, id, func() error {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		oldParent := current.ParentID()

		req := ports.LockRequest{
			Groups:   []string{oldParent.GroupKey(), parentID.GroupKey()},
			Reparent: !oldParent.Equals(parentID),
		}
		return s.withLocks(ctx, req, func(ctx context.Context, store ports.NodeStore) error {
			node, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			if !node.ParentID().Equals(oldParent) {
				return errPlanStale
			}
			moved, err = s.engine.Move(ctx, store, id, parentID, position)
			return err
		})
	})
	s.metrics.RecordMutation("move", err)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Node moved",
		zap.String("nodeID", id.String()),
		zap.String("parentID", parentID.String()),
		zap.Int("position", moved.Position()),
	)
	s.publish(ctx, moved)
	return moved, nil
}

// DeleteNode removes a node with all its descendants and returns the number
// of deleted records.
func (s *NodeService) DeleteNode(ctx context.Context, id valueobjects.NodeID) (int, error) {
	var (
		deleted  []valueobjects.NodeID
		parentID valueobjects.NodeID
	)
	err := s.retryPlan(ctx, id, func() error {
		node, err := s.store.Get(ctx, id)
		if err != nil {
			return err
		}
		parentID = node.ParentID()

		planned, err := s.engine.Subtree(ctx, s.store, id)
		if err != nil {
			return err
		}

		groups := make([]string, 0, len(planned)+1)
		groups = append(groups, parentID.GroupKey())
		for _, member := range planned {
			groups = append(groups, member.GroupKey())
		}

		return s.withLocks(ctx, ports.LockRequest{Groups: groups}, func(ctx context.Context, store ports.NodeStore) error {
			current, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			if !current.ParentID().Equals(parentID) {
				return errPlanStale
			}
			subtree, err := s.engine.Subtree(ctx, store, id)
			if err != nil {
				return err
			}
			if !sameIDs(planned, subtree) {
				return errPlanStale
			}
			deleted, err = s.engine.DeleteSubtree(ctx, store, id)
			return err
		})
	})
	s.metrics.RecordMutation("delete", err)
	if err != nil {
		return 0, err
	}

	s.metrics.AddNodesDeleted(len(deleted))
	s.logger.Debug("Node deleted",
		zap.String("nodeID", id.String()),
		zap.Int("count", len(deleted)),
	)
	s.publishEvents(ctx, []events.DomainEvent{
		events.NewNodeDeleted(id, parentID, deleted, time.Now().UTC()),
	})
	return len(deleted), nil
}

// GetNode returns a single node
func (s *NodeService) GetNode(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	return s.store.Get(ctx, id)
}

// ListRoots returns the root nodes in order
func (s *NodeService) ListRoots(ctx context.Context) ([]*entities.Node, error) {
	return s.store.ListRoots(ctx)
}

// ListChildren returns the children of parentID in order. The parent must
// exist; a zero parentID lists the roots.
func (s *NodeService) ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error) {
	if !parentID.IsZero() {
		exists, err := s.store.Exists(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, pkgerrors.NewNodeNotFoundError(parentID.String())
		}
	}
	return s.store.ListChildren(ctx, parentID)
}

// ListStarred returns starred nodes
func (s *NodeService) ListStarred(ctx context.Context) ([]*entities.Node, error) {
	return s.store.ListStarred(ctx)
}

// Search returns nodes matching every supplied filter. With no filter the
// result is empty.
func (s *NodeService) Search(ctx context.Context, criteria SearchCriteria) ([]*entities.Node, error) {
	criteria.Query = strings.TrimSpace(criteria.Query)
	criteria.Tag = strings.TrimPrefix(strings.TrimSpace(criteria.Tag), "#")
	if criteria.IsEmpty() {
		return []*entities.Node{}, nil
	}

	var (
		candidates []*entities.Node
		err        error
	)
	switch {
	case criteria.Query != "":
		candidates, err = s.store.SearchByContent(ctx, criteria.Query)
	case criteria.Tag != "":
		candidates, err = s.store.SearchByTag(ctx, criteria.Tag)
	default:
		candidates, err = s.store.ListByCompleted(ctx, *criteria.Completed)
	}
	if err != nil {
		return nil, err
	}

	results := make([]*entities.Node, 0, len(candidates))
	for _, n := range candidates {
		if criteria.Query != "" && !n.Content().Contains(criteria.Query) {
			continue
		}
		if criteria.Tag != "" && !n.HasTagContaining(criteria.Tag) {
			continue
		}
		if criteria.Completed != nil && n.IsCompleted() != *criteria.Completed {
			continue
		}
		results = append(results, n)
	}
	return results, nil
}

// mutateNode applies fn to a node under its sibling group lock and saves it.
func (s *NodeService) mutateNode(ctx context.Context, op string, id valueobjects.NodeID, fn func(*entities.Node) error) (*entities.Node, error) {
	var result *entities.Node
	err := s.withNodes(ctx, []valueobjects.NodeID{id}, func(ctx context.Context, store ports.NodeStore, nodes []*entities.Node) error {
		node := nodes[0]
		if err := fn(node); err != nil {
			return err
		}
		if err := store.Save(ctx, node); err != nil {
			return err
		}
		result = node
		return nil
	})
	s.metrics.RecordMutation(op, err)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, result)
	return result, nil
}

// withNodes locks the sibling groups of ids and runs fn with the nodes as
// read inside the transaction. If any node changed parent between planning
// and locking, the plan is rebuilt.
func (s *NodeService) withNodes(ctx context.Context, ids []valueobjects.NodeID, fn func(context.Context, ports.NodeStore, []*entities.Node) error) error {
	return s.retryPlan(ctx, ids[0], func() error {
		parents := make([]valueobjects.NodeID, len(ids))
		groups := make([]string, len(ids))
		for i, id := range ids {
			node, err := s.store.Get(ctx, id)
			if err != nil {
				return err
			}
			parents[i] = node.ParentID()
			groups[i] = parents[i].GroupKey()
		}

		return s.withLocks(ctx, ports.LockRequest{Groups: groups}, func(ctx context.Context, store ports.NodeStore) error {
			nodes := make([]*entities.Node, len(ids))
			for i, id := range ids {
				node, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				if !node.ParentID().Equals(parents[i]) {
					return errPlanStale
				}
				nodes[i] = node
			}
			return fn(ctx, store, nodes)
		})
	})
}

// retryPlan runs attempt until it stops reporting a stale lock plan.
func (s *NodeService) retryPlan(ctx context.Context, id valueobjects.NodeID, attempt func() error) error {
	for i := 1; i <= maxLockAttempts; i++ {
		err := attempt()
		if !errors.Is(err, errPlanStale) {
			return err
		}
		s.logger.Debug("Lock plan went stale, retrying",
			zap.String("nodeID", id.String()),
			zap.Int("attempt", i),
		)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return pkgerrors.NewTreeChangedError(id.String(), maxLockAttempts)
}

// withLocks holds the locks of req for the duration of one transaction.
func (s *NodeService) withLocks(ctx context.Context, req ports.LockRequest, fn func(context.Context, ports.NodeStore) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	start := time.Now()
	release, err := s.locker.Acquire(lockCtx, req)
	cancel()
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return err
	}
	defer release()

	return s.inTransaction(ctx, fn)
}

// inTransaction runs fn in a unit of work, committing only when fn succeeds.
func (s *NodeService) inTransaction(ctx context.Context, fn func(context.Context, ports.NodeStore) error) error {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return storeFailure("begin", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
	}()

	if err := fn(ctx, tx.Nodes()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeFailure("commit", err)
	}
	committed = true
	return nil
}

func (s *NodeService) buildNode(text string, parentID valueobjects.NodeID, tags []string, notes string) (*entities.Node, error) {
	content, err := valueobjects.NewNodeContentWithConfig(text, s.cfg)
	if err != nil {
		return nil, err
	}
	normalized, err := valueobjects.NormalizeTags(tags, s.cfg)
	if err != nil {
		return nil, err
	}
	if err := s.validateNotes(notes); err != nil {
		return nil, err
	}
	return entities.NewNode(content, parentID, normalized, notes)
}

func (s *NodeService) validateNotes(notes string) error {
	if utf8.RuneCountInString(notes) > s.cfg.MaxNotesLength {
		return pkgerrors.NewValidationError(
			fmt.Sprintf("notes exceed maximum length of %d characters", s.cfg.MaxNotesLength))
	}
	return nil
}

// publish sends the pending events of nodes. Publishing happens after commit
// and never fails the operation.
func (s *NodeService) publish(ctx context.Context, nodes ...*entities.Node) {
	var pending []events.DomainEvent
	for _, n := range nodes {
		pending = append(pending, n.GetUncommittedEvents()...)
		n.MarkEventsAsCommitted()
	}
	s.publishEvents(ctx, pending)
}

func (s *NodeService) publishEvents(ctx context.Context, pending []events.DomainEvent) {
	if s.publisher == nil || len(pending) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, pending); err != nil {
		s.logger.Warn("Failed to publish domain events",
			zap.Error(err),
			zap.Int("count", len(pending)),
		)
	}
}

// storeFailure classifies an unexpected persistence error as retryable.
func storeFailure(op string, err error) error {
	if pkgerrors.IsAppError(err) {
		return err
	}
	return pkgerrors.NewStoreFailure(op, err)
}

func sameIDs(a, b []valueobjects.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id.String()] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id.String()]; !ok {
			return false
		}
	}
	return true
}
