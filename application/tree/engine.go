// Package tree keeps sibling groups gap-free and the parent graph acyclic.
//
// Every operation works against a NodeStore bound to an open transaction and
// assumes the caller already holds the locks of the sibling groups it touches.
// Errors are never recovered here; the caller rolls the transaction back.
package tree

import (
	"context"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/config"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// Engine implements the ordering and structural rules of the node forest
type Engine struct {
	maxDepth int
}

// NewEngine creates an engine using the tree limits of cfg
func NewEngine(cfg *config.DomainConfig) *Engine {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Engine{maxDepth: cfg.MaxTreeDepth}
}

// Resequence renumbers the children of parentID to 0..n-1, keeping their
// relative order. Only nodes whose position changes are saved.
func (e *Engine) Resequence(ctx context.Context, store ports.NodeStore, parentID valueobjects.NodeID) error {
	return e.resequenceExcluding(ctx, store, parentID, valueobjects.NodeID{})
}

// InsertAt stores node as a child of parentID at the effective index for
// requested, shifting later siblings by one.
func (e *Engine) InsertAt(ctx context.Context, store ports.NodeStore, node *entities.Node, parentID valueobjects.NodeID, requested *int) error {
	if parentID.Equals(node.ID()) {
		return pkgerrors.NewCycleError(node.ID().String(), parentID.String())
	}
	if err := e.requireParent(ctx, store, parentID); err != nil {
		return err
	}

	idx, err := e.openGap(ctx, store, parentID, node.ID(), requested)
	if err != nil {
		return err
	}
	if err := node.Place(parentID, idx); err != nil {
		return err
	}
	return store.Save(ctx, node)
}

// Move relocates a node under newParentID at newPosition. A zero
// newParentID moves it to the root group. Moving within the same group is a
// reorder; moving to the current parent and position re-saves the node
// without changing the tree.
func (e *Engine) Move(ctx context.Context, store ports.NodeStore, nodeID, newParentID valueobjects.NodeID, newPosition *int) (*entities.Node, error) {
	node, err := store.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if newParentID.Equals(nodeID) {
		return nil, pkgerrors.NewCycleError(nodeID.String(), newParentID.String())
	}
	if err := e.requireParent(ctx, store, newParentID); err != nil {
		return nil, err
	}
	if err := e.CheckCycle(ctx, store, nodeID, newParentID); err != nil {
		return nil, err
	}

	oldParentID := node.ParentID()
	if !oldParentID.Equals(newParentID) {
		if err := e.resequenceExcluding(ctx, store, oldParentID, nodeID); err != nil {
			return nil, err
		}
	}

	idx, err := e.openGap(ctx, store, newParentID, nodeID, newPosition)
	if err != nil {
		return nil, err
	}
	if err := node.MoveTo(newParentID, idx); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteSubtree removes a node and all of its descendants, children before
// parents, then closes the gap in the node's former sibling group. It
// returns the deleted ids in deletion order.
func (e *Engine) DeleteSubtree(ctx context.Context, store ports.NodeStore, nodeID valueobjects.NodeID) ([]valueobjects.NodeID, error) {
	node, err := store.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	order, err := e.Subtree(ctx, store, nodeID)
	if err != nil {
		return nil, err
	}

	for _, id := range order {
		if err := store.Delete(ctx, id); err != nil {
			return nil, err
		}
	}

	if err := e.Resequence(ctx, store, node.ParentID()); err != nil {
		return nil, err
	}
	return order, nil
}

// Subtree returns the ids of nodeID and all its descendants in post-order:
// every node appears after all of its descendants. The walk uses an explicit
// stack, so tree depth does not grow the call stack.
func (e *Engine) Subtree(ctx context.Context, store ports.NodeStore, nodeID valueobjects.NodeID) ([]valueobjects.NodeID, error) {
	type frame struct {
		id       valueobjects.NodeID
		expanded bool
	}

	var order []valueobjects.NodeID
	seen := map[string]struct{}{nodeID.String(): {}}
	stack := []frame{{id: nodeID}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.expanded {
			order = append(order, top.id)
			continue
		}

		stack = append(stack, frame{id: top.id, expanded: true})

		children, err := store.ListChildren(ctx, top.id)
		if err != nil {
			return nil, err
		}
		entities.SortByPosition(children)

		// reverse push so the first child is visited first
		for i := len(children) - 1; i >= 0; i-- {
			childID := children[i].ID()
			if _, dup := seen[childID.String()]; dup {
				return nil, pkgerrors.NewTreeCorruptError(childID.String(), e.maxDepth)
			}
			seen[childID.String()] = struct{}{}
			stack = append(stack, frame{id: childID})
		}
	}
	return order, nil
}

// CheckCycle walks the ancestors of newParentID and fails with a cycle error
// if nodeID is among them. The walk gives up with a corruption error after
// the configured maximum depth.
func (e *Engine) CheckCycle(ctx context.Context, store ports.NodeStore, nodeID, newParentID valueobjects.NodeID) error {
	current := newParentID
	for steps := 0; !current.IsZero(); steps++ {
		if current.Equals(nodeID) {
			return pkgerrors.NewCycleError(nodeID.String(), newParentID.String())
		}
		if steps >= e.maxDepth {
			return pkgerrors.NewTreeCorruptError(newParentID.String(), e.maxDepth)
		}

		ancestor, err := store.Get(ctx, current)
		if err != nil {
			return err
		}
		current = ancestor.ParentID()
	}
	return nil
}

// EffectiveIndex resolves a requested insertion index against a group of
// count siblings. Absent, negative and too-large requests append.
func EffectiveIndex(requested *int, count int) int {
	if requested == nil || *requested < 0 || *requested > count {
		return count
	}
	return *requested
}

func (e *Engine) requireParent(ctx context.Context, store ports.NodeStore, parentID valueobjects.NodeID) error {
	if parentID.IsZero() {
		return nil
	}
	exists, err := store.Exists(ctx, parentID)
	if err != nil {
		return err
	}
	if !exists {
		return pkgerrors.NewParentNotFoundError(parentID.String())
	}
	return nil
}

// openGap renumbers the group of parentID, leaving out exclude, so that the
// effective index of requested is free. It returns that index.
func (e *Engine) openGap(ctx context.Context, store ports.NodeStore, parentID, exclude valueobjects.NodeID, requested *int) (int, error) {
	siblings, err := e.siblings(ctx, store, parentID, exclude)
	if err != nil {
		return 0, err
	}

	idx := EffectiveIndex(requested, len(siblings))
	for i, sibling := range siblings {
		want := i
		if i >= idx {
			want = i + 1
		}
		if sibling.Renumber(want) {
			if err := store.Save(ctx, sibling); err != nil {
				return 0, err
			}
		}
	}
	return idx, nil
}

func (e *Engine) resequenceExcluding(ctx context.Context, store ports.NodeStore, parentID, exclude valueobjects.NodeID) error {
	siblings, err := e.siblings(ctx, store, parentID, exclude)
	if err != nil {
		return err
	}
	for i, sibling := range siblings {
		if sibling.Renumber(i) {
			if err := store.Save(ctx, sibling); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) siblings(ctx context.Context, store ports.NodeStore, parentID, exclude valueobjects.NodeID) ([]*entities.Node, error) {
	children, err := store.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}

	kept := children[:0]
	for _, c := range children {
		if !exclude.IsZero() && c.ID().Equals(exclude) {
			continue
		}
		kept = append(kept, c)
	}
	entities.SortByPosition(kept)
	return kept, nil
}
