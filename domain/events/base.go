package events

import (
	"time"

	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
)

// Event types published for nodes
const (
	TypeNodeCreated = "node.created"
	TypeNodeUpdated = "node.updated"
	TypeNodeMoved   = "node.moved"
	TypeNodeDeleted = "node.deleted"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(nodeID valueobjects.NodeID, eventType string, timestamp time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: nodeID.String(),
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     1,
	}
}

// NodeCreated is raised when a new node is created
type NodeCreated struct {
	BaseEvent
	NodeID   valueobjects.NodeID `json:"node_id"`
	ParentID valueobjects.NodeID `json:"parent_id"`
	Content  string              `json:"content"`
	Tags     []string            `json:"tags"`
}

// NewNodeCreated creates a NodeCreated event
func NewNodeCreated(nodeID, parentID valueobjects.NodeID, content string, tags []string, timestamp time.Time) NodeCreated {
	return NodeCreated{
		BaseEvent: newBase(nodeID, TypeNodeCreated, timestamp),
		NodeID:    nodeID,
		ParentID:  parentID,
		Content:   content,
		Tags:      tags,
	}
}

// NodeUpdated is raised when a field of a node changes in place
type NodeUpdated struct {
	BaseEvent
	NodeID valueobjects.NodeID `json:"node_id"`
	Field  string              `json:"field"`
}

// NewNodeUpdated creates a NodeUpdated event
func NewNodeUpdated(nodeID valueobjects.NodeID, field string, timestamp time.Time) NodeUpdated {
	return NodeUpdated{
		BaseEvent: newBase(nodeID, TypeNodeUpdated, timestamp),
		NodeID:    nodeID,
		Field:     field,
	}
}

// NodeMoved is raised when a node changes parent or position
type NodeMoved struct {
	BaseEvent
	NodeID      valueobjects.NodeID `json:"node_id"`
	OldParentID valueobjects.NodeID `json:"old_parent_id"`
	NewParentID valueobjects.NodeID `json:"new_parent_id"`
	OldPosition int                 `json:"old_position"`
	NewPosition int                 `json:"new_position"`
}

// NewNodeMoved creates a NodeMoved event
func NewNodeMoved(nodeID, oldParent, newParent valueobjects.NodeID, oldPos, newPos int, timestamp time.Time) NodeMoved {
	return NodeMoved{
		BaseEvent:   newBase(nodeID, TypeNodeMoved, timestamp),
		NodeID:      nodeID,
		OldParentID: oldParent,
		NewParentID: newParent,
		OldPosition: oldPos,
		NewPosition: newPos,
	}
}

// NodeDeleted is raised when a node and its subtree are removed
type NodeDeleted struct {
	BaseEvent
	NodeID       valueobjects.NodeID   `json:"node_id"`
	ParentID     valueobjects.NodeID   `json:"parent_id"`
	DeletedIDs   []valueobjects.NodeID `json:"deleted_ids"`
	DeletedCount int                   `json:"deleted_count"`
}

// NewNodeDeleted creates a NodeDeleted event
func NewNodeDeleted(nodeID, parentID valueobjects.NodeID, deleted []valueobjects.NodeID, timestamp time.Time) NodeDeleted {
	return NodeDeleted{
		BaseEvent:    newBase(nodeID, TypeNodeDeleted, timestamp),
		NodeID:       nodeID,
		ParentID:     parentID,
		DeletedIDs:   deleted,
		DeletedCount: len(deleted),
	}
}
