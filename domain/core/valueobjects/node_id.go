package valueobjects

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// NodeID is a value object representing a unique node identifier.
// The zero value means "no node": a root node's parent and an unset mirror.
type NodeID struct {
	value string
}

// RootGroupKey names the sibling group of root nodes.
const RootGroupKey = "root"

// NewNodeID creates a new random NodeID
func NewNodeID() NodeID {
	return NodeID{value: uuid.New().String()}
}

// NewNodeIDFromString creates a NodeID from an existing string. Every form
// uuid.Parse accepts is stored in the lowercase hyphenated form, so equal
// UUIDs compare equal.
func NewNodeIDFromString(id string) (NodeID, error) {
	if id == "" {
		return NodeID{}, errors.New("node ID cannot be empty")
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return NodeID{}, errors.New("node ID must be a valid UUID")
	}
	return NodeID{value: u.String()}, nil
}

// ParseOptionalNodeID parses an id that may be absent. Empty and "null"
// both yield the zero NodeID.
func ParseOptionalNodeID(id string) (NodeID, error) {
	if id == "" || id == "null" {
		return NodeID{}, nil
	}
	return NewNodeIDFromString(id)
}

// String returns the string representation of the NodeID
func (id NodeID) String() string {
	return id.value
}

// Equals checks if two NodeIDs are equal
func (id NodeID) Equals(other NodeID) bool {
	return id.value == other.value
}

// IsZero checks if the NodeID is the zero value
func (id NodeID) IsZero() bool {
	return id.value == ""
}

// GroupKey returns the lock and index key of the sibling group this id parents.
func (id NodeID) GroupKey() string {
	if id.IsZero() {
		return RootGroupKey
	}
	return id.value
}

// MarshalJSON implements json.Marshaler
func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NodeID{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("NodeID must be a string")
	}
	parsed, err := ParseOptionalNodeID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
