package handlers

import (
	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// CreateNodeRequest represents the request body for creating a node
type CreateNodeRequest struct {
	Content     string   `json:"content" validate:"required"`
	ParentID    *string  `json:"parentId,omitempty" validate:"omitempty,uuid"`
	Position    *int     `json:"position,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	MirrorID    *string  `json:"mirrorId,omitempty" validate:"omitempty,uuid"`
	IsCompleted bool     `json:"isCompleted"`
	IsExpanded  *bool    `json:"isExpanded,omitempty"`
	IsStarred   bool     `json:"isStarred"`
}

// UpdateNodeRequest represents the request body for updating a node
type UpdateNodeRequest struct {
	Content  *string `json:"content,omitempty"`
	Position *int    `json:"position,omitempty" validate:"omitempty,gte=0"`
}

// BatchItemRequest is one element of a batch update body
type BatchItemRequest struct {
	ID          string   `json:"id" validate:"required,uuid"`
	Content     *string  `json:"content,omitempty"`
	IsCompleted *bool    `json:"isCompleted,omitempty"`
	IsExpanded  *bool    `json:"isExpanded,omitempty"`
	IsStarred   *bool    `json:"isStarred,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	Tags        []string `json:"tags"`
}

// NotesRequest is the JSON form of a notes update
type NotesRequest struct {
	Notes string `json:"notes"`
}

// TagRequest represents the request body for adding a tag
type TagRequest struct {
	Tag string `json:"tag" validate:"required"`
}

// DeleteNodeResponse reports how many nodes a delete removed
type DeleteNodeResponse struct {
	ID           string `json:"id"`
	DeletedCount int    `json:"deletedCount"`
}

// ImportRequest is the JSON import body. It accepts the export envelope, so
// an exported document can be posted back unchanged.
type ImportRequest struct {
	Nodes []services.ImportNode `json:"nodes" validate:"dive"`
}

func (req CreateNodeRequest) toInput() (services.CreateNodeInput, error) {
	in := services.CreateNodeInput{
		Content:     req.Content,
		Position:    req.Position,
		Tags:        req.Tags,
		Notes:       req.Notes,
		IsCompleted: req.IsCompleted,
		IsExpanded:  req.IsExpanded,
		IsStarred:   req.IsStarred,
	}
	if req.ParentID != nil {
		id, err := valueobjects.ParseOptionalNodeID(*req.ParentID)
		if err != nil {
			return in, pkgerrors.NewValidationError("parentId: " + err.Error())
		}
		in.ParentID = id
	}
	if req.MirrorID != nil {
		id, err := valueobjects.ParseOptionalNodeID(*req.MirrorID)
		if err != nil {
			return in, pkgerrors.NewValidationError("mirrorId: " + err.Error())
		}
		in.MirrorID = id
	}
	return in, nil
}

func (req BatchItemRequest) toItem() (services.BatchItem, error) {
	id, err := valueobjects.NewNodeIDFromString(req.ID)
	if err != nil {
		return services.BatchItem{}, pkgerrors.NewValidationError("id: " + err.Error())
	}
	return services.BatchItem{
		ID:          id,
		Content:     req.Content,
		IsCompleted: req.IsCompleted,
		IsExpanded:  req.IsExpanded,
		IsStarred:   req.IsStarred,
		Notes:       req.Notes,
		Tags:        req.Tags,
	}, nil
}
