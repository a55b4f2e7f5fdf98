package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

type sample struct {
	Content  string   `json:"content" validate:"required"`
	ParentID string   `json:"parentId,omitempty" validate:"omitempty,uuid"`
	Position *int     `json:"position,omitempty" validate:"omitempty,gte=0"`
	Tags     []string `json:"tags" validate:"max=2,dive,min=1"`
}

func TestValidateStruct(t *testing.T) {
	neg := -1
	err := ValidateStruct(sample{ParentID: "nope", Position: &neg, Tags: []string{"a", "b", "c"}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "content is required")
	assert.Contains(t, err.Error(), "parentId must be a valid UUID")
	assert.Contains(t, err.Error(), "position must be 0 or greater")
	assert.Contains(t, err.Error(), "tags must be at most 2")

	zero := 0
	assert.NoError(t, ValidateStruct(sample{Content: "x", Position: &zero, Tags: []string{"a"}}))
}
