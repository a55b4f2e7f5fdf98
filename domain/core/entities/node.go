package entities

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/domain/events"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// Node is a single task in the outline forest.
// Fields are private; tree placement is changed only through Place and MoveTo.
type Node struct {
	id          valueobjects.NodeID
	parentID    valueobjects.NodeID // zero for root nodes
	position    int
	content     valueobjects.NodeContent
	isCompleted bool
	isExpanded  bool
	isStarred   bool
	tags        []string
	notes       string
	mirrorID    valueobjects.NodeID
	createdAt   time.Time
	updatedAt   time.Time

	// Domain events that occurred during this aggregate's lifetime
	events []events.DomainEvent
}

// NodeSnapshot is the flat, serializable form of a node. It is the JSON wire
// shape and the record adapters persist.
type NodeSnapshot struct {
	ID          valueobjects.NodeID `json:"id"`
	Content     string              `json:"content"`
	ParentID    valueobjects.NodeID `json:"parentId"`
	Position    int                 `json:"position"`
	IsCompleted bool                `json:"isCompleted"`
	IsExpanded  bool                `json:"isExpanded"`
	IsStarred   bool                `json:"isStarred"`
	Tags        []string            `json:"tags"`
	Notes       string              `json:"notes"`
	MirrorID    valueobjects.NodeID `json:"mirrorId"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// NewNode creates a detached node under parentID. Its position is assigned
// when the tree engine places it.
func NewNode(content valueobjects.NodeContent, parentID valueobjects.NodeID, tags []string, notes string) (*Node, error) {
	if content.IsEmpty() {
		return nil, pkgerrors.NewValidationError("content cannot be empty")
	}

	now := time.Now().UTC()
	node := &Node{
		id:         valueobjects.NewNodeID(),
		parentID:   parentID,
		content:    content,
		isExpanded: true,
		tags:       copyTags(tags),
		notes:      notes,
		createdAt:  now,
		updatedAt:  now,
		events:     []events.DomainEvent{},
	}

	node.addEvent(events.NewNodeCreated(node.id, parentID, content.String(), node.Tags(), now))
	return node, nil
}

// InitFlags sets the status flags of a node that has not been stored yet.
// No events are recorded; the creation event covers the initial state.
func (n *Node) InitFlags(completed, expanded, starred bool) {
	n.isCompleted = completed
	n.isExpanded = expanded
	n.isStarred = starred
}

// ReconstructNode reconstructs a node from repository data with preserved timestamps
func ReconstructNode(s NodeSnapshot) (*Node, error) {
	if s.ID.IsZero() {
		return nil, pkgerrors.NewValidationError("node id cannot be empty")
	}
	if s.ParentID.Equals(s.ID) {
		return nil, pkgerrors.NewValidationError("node cannot be its own parent")
	}
	if s.Position < 0 {
		return nil, pkgerrors.NewValidationError("position cannot be negative")
	}
	content := valueobjects.RestoreNodeContent(s.Content)
	if content.IsEmpty() {
		return nil, pkgerrors.NewValidationError("content cannot be empty")
	}

	return &Node{
		id:          s.ID,
		parentID:    s.ParentID,
		position:    s.Position,
		content:     content,
		isCompleted: s.IsCompleted,
		isExpanded:  s.IsExpanded,
		isStarred:   s.IsStarred,
		tags:        copyTags(s.Tags),
		notes:       s.Notes,
		mirrorID:    s.MirrorID,
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		events:      []events.DomainEvent{},
	}, nil
}

// Snapshot returns the flat form of the node
func (n *Node) Snapshot() NodeSnapshot {
	return NodeSnapshot{
		ID:          n.id,
		Content:     n.content.String(),
		ParentID:    n.parentID,
		Position:    n.position,
		IsCompleted: n.isCompleted,
		IsExpanded:  n.isExpanded,
		IsStarred:   n.isStarred,
		Tags:        n.Tags(),
		Notes:       n.notes,
		MirrorID:    n.mirrorID,
		CreatedAt:   n.createdAt,
		UpdatedAt:   n.updatedAt,
	}
}

// MarshalJSON implements json.Marshaler
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Snapshot())
}

// Clone returns a deep copy without pending events.
func (n *Node) Clone() *Node {
	c := *n
	c.tags = copyTags(n.tags)
	c.events = []events.DomainEvent{}
	return &c
}

// ID returns the node's unique identifier
func (n *Node) ID() valueobjects.NodeID { return n.id }

// ParentID returns the parent id, zero for a root node
func (n *Node) ParentID() valueobjects.NodeID { return n.parentID }

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool { return n.parentID.IsZero() }

// Position returns the index within the sibling group
func (n *Node) Position() int { return n.position }

// Content returns the node's content
func (n *Node) Content() valueobjects.NodeContent { return n.content }

func (n *Node) IsCompleted() bool { return n.isCompleted }
func (n *Node) IsExpanded() bool  { return n.isExpanded }
func (n *Node) IsStarred() bool   { return n.isStarred }

// Notes returns the free-text notes
func (n *Node) Notes() string { return n.notes }

// MirrorID returns the linked copy, if any
func (n *Node) MirrorID() valueobjects.NodeID { return n.mirrorID }

// CreatedAt returns when the node was created
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// UpdatedAt returns when the node was last modified
func (n *Node) UpdatedAt() time.Time { return n.updatedAt }

// Tags returns a copy of the node's tags in display order
func (n *Node) Tags() []string {
	return copyTags(n.tags)
}

// HasTagContaining reports a case-insensitive substring match on any tag.
func (n *Node) HasTagContaining(query string) bool {
	query = strings.ToLower(query)
	for _, t := range n.tags {
		if strings.Contains(strings.ToLower(t), query) {
			return true
		}
	}
	return false
}

// UpdateContent replaces the node's text
func (n *Node) UpdateContent(content valueobjects.NodeContent) error {
	if content.IsEmpty() {
		return pkgerrors.NewValidationError("content cannot be empty")
	}
	n.content = content
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "content", n.updatedAt))
	return nil
}

// SetPosition overwrites the stored position without touching siblings.
func (n *Node) SetPosition(position int) error {
	if position < 0 {
		return pkgerrors.NewValidationError("position cannot be negative")
	}
	n.position = position
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "position", n.updatedAt))
	return nil
}

// ToggleComplete inverts the completed flag and returns the new value
func (n *Node) ToggleComplete() bool {
	n.SetCompleted(!n.isCompleted)
	return n.isCompleted
}

// ToggleExpand inverts the expanded flag and returns the new value
func (n *Node) ToggleExpand() bool {
	n.SetExpanded(!n.isExpanded)
	return n.isExpanded
}

// ToggleStar inverts the starred flag and returns the new value
func (n *Node) ToggleStar() bool {
	n.SetStarred(!n.isStarred)
	return n.isStarred
}

func (n *Node) SetCompleted(v bool) {
	n.isCompleted = v
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "isCompleted", n.updatedAt))
}

func (n *Node) SetExpanded(v bool) {
	n.isExpanded = v
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "isExpanded", n.updatedAt))
}

func (n *Node) SetStarred(v bool) {
	n.isStarred = v
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "isStarred", n.updatedAt))
}

// UpdateNotes replaces the notes
func (n *Node) UpdateNotes(notes string) {
	n.notes = notes
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "notes", n.updatedAt))
}

// SetMirror links the node to a mirrored copy
func (n *Node) SetMirror(mirrorID valueobjects.NodeID) {
	n.mirrorID = mirrorID
	n.touch()
}

// SetTags replaces all tags. Tags are expected to be normalized already.
func (n *Node) SetTags(tags []string) {
	n.tags = copyTags(tags)
	n.touch()
	n.addEvent(events.NewNodeUpdated(n.id, "tags", n.updatedAt))
}

// AddTag appends a tag. An exact duplicate is ignored and false is returned.
func (n *Node) AddTag(tag string) bool {
	for _, t := range n.tags {
		if t == tag {
			return false
		}
	}
	n.SetTags(append(n.tags, tag))
	return true
}

// RemoveTag drops every occurrence of tag. Returns false if it was absent.
func (n *Node) RemoveTag(tag string) bool {
	kept := make([]string, 0, len(n.tags))
	for _, t := range n.tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(n.tags) {
		return false
	}
	n.SetTags(kept)
	return true
}

// Place sets parent and position for a node being inserted into the tree.
func (n *Node) Place(parentID valueobjects.NodeID, position int) error {
	if parentID.Equals(n.id) {
		return pkgerrors.NewCycleError(n.id.String(), parentID.String())
	}
	if position < 0 {
		return pkgerrors.NewValidationError("position cannot be negative")
	}
	n.parentID = parentID
	n.position = position
	n.touch()
	return nil
}

// MoveTo relocates the node and records a move event.
func (n *Node) MoveTo(parentID valueobjects.NodeID, position int) error {
	oldParent, oldPosition := n.parentID, n.position
	if err := n.Place(parentID, position); err != nil {
		return err
	}
	n.addEvent(events.NewNodeMoved(n.id, oldParent, parentID, oldPosition, position, n.updatedAt))
	return nil
}

// Renumber changes the position as part of a sibling resequence.
// It reports whether the position actually changed.
func (n *Node) Renumber(position int) bool {
	if n.position == position {
		return false
	}
	n.position = position
	n.touch()
	return true
}

// GetUncommittedEvents returns all uncommitted domain events
func (n *Node) GetUncommittedEvents() []events.DomainEvent {
	return n.events
}

// MarkEventsAsCommitted clears the uncommitted events
func (n *Node) MarkEventsAsCommitted() {
	n.events = []events.DomainEvent{}
}

func (n *Node) addEvent(event events.DomainEvent) {
	n.events = append(n.events, event)
}

// touch refreshes updatedAt. The timestamp always moves forward, even when
// the clock has not ticked since the previous mutation.
func (n *Node) touch() {
	now := time.Now().UTC()
	if !now.After(n.updatedAt) {
		now = n.updatedAt.Add(time.Nanosecond)
	}
	n.updatedAt = now
}

func copyTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// SortByPosition orders nodes the way sibling groups are numbered: by
// position, then id.
func SortByPosition(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].position != nodes[j].position {
			return nodes[i].position < nodes[j].position
		}
		return nodes[i].id.String() < nodes[j].id.String()
	})
}
