package services

import (
	"time"

	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
)

// CreateNodeInput describes a node to create. A zero ParentID creates a root
// node; a nil Position appends to the sibling group.
type CreateNodeInput struct {
	Content     string
	ParentID    valueobjects.NodeID
	Position    *int
	Tags        []string
	Notes       string
	MirrorID    valueobjects.NodeID
	IsCompleted bool
	IsExpanded  *bool
	IsStarred   bool
}

// UpdateNodeInput carries the optional fields of a plain update. Position
// is written as-is; siblings are not renumbered.
type UpdateNodeInput struct {
	Content  *string
	Position *int
}

// BatchItem is one entry of a batch update. Nil fields are left unchanged.
type BatchItem struct {
	ID          valueobjects.NodeID
	Content     *string
	IsCompleted *bool
	IsExpanded  *bool
	IsStarred   *bool
	Notes       *string
	Tags        []string // nil leaves tags unchanged, empty clears them
}

// SearchCriteria filters are combined with AND. Empty filters are ignored.
type SearchCriteria struct {
	Query     string
	Tag       string
	Completed *bool
}

// IsEmpty reports whether no filter is set
func (c SearchCriteria) IsEmpty() bool {
	return c.Query == "" && c.Tag == "" && c.Completed == nil
}

// TreeNode is a node together with its ordered children
type TreeNode struct {
	entities.NodeSnapshot
	Children []*TreeNode `json:"children"`
}

// ExportDocument is the JSON export envelope
type ExportDocument struct {
	Version    string      `json:"version"`
	ExportDate time.Time   `json:"exportDate"`
	Nodes      []*TreeNode `json:"nodes"`
}

// ExportVersion is the version written to export documents
const ExportVersion = "1.0"

// ImportNode is one node of an imported outline
type ImportNode struct {
	Content     string       `json:"content" validate:"required"`
	IsCompleted bool         `json:"isCompleted"`
	IsExpanded  *bool        `json:"isExpanded,omitempty"`
	IsStarred   bool         `json:"isStarred"`
	Tags        []string     `json:"tags,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	Children    []ImportNode `json:"children,omitempty" validate:"dive"`
}
