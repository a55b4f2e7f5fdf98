package valueobjects

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teesha-ghevariya/to-do/domain/config"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

func TestNodeID(t *testing.T) {
	id := NewNodeID()
	parsed, err := NewNodeIDFromString(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equals(parsed))
	assert.Equal(t, id.String(), parsed.GroupKey())

	_, err = NewNodeIDFromString("not-a-uuid")
	assert.Error(t, err)

	zero, err := ParseOptionalNodeID("null")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Equal(t, RootGroupKey, zero.GroupKey())
}

func TestNodeID_CanonicalForm(t *testing.T) {
	id := NewNodeID()
	forms := []string{
		strings.ToUpper(id.String()),
		"{" + id.String() + "}",
		"urn:uuid:" + id.String(),
		strings.ReplaceAll(id.String(), "-", ""),
	}

	for _, form := range forms {
		t.Run(form, func(t *testing.T) {
			parsed, err := NewNodeIDFromString(form)
			require.NoError(t, err)
			assert.Equal(t, id.String(), parsed.String())
			assert.True(t, id.Equals(parsed))
			assert.Equal(t, id.GroupKey(), parsed.GroupKey())
		})
	}

	var wrapped struct {
		ParentID NodeID `json:"parentId"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"parentId":"`+strings.ToUpper(id.String())+`"}`), &wrapped))
	assert.True(t, id.Equals(wrapped.ParentID))
}

func TestNodeID_JSON(t *testing.T) {
	type wrapper struct {
		ParentID NodeID `json:"parentId"`
	}

	data, err := json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"parentId":null}`, string(data))

	id := NewNodeID()
	data, err = json.Marshal(wrapper{ParentID: id})
	require.NoError(t, err)

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, id.Equals(back.ParentID))

	assert.Error(t, json.Unmarshal([]byte(`{"parentId":"xyz"}`), &back))
}

func TestNodeContent(t *testing.T) {
	c, err := NewNodeContent("  Buy milk ")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", c.String())
	assert.True(t, c.Contains("MILK"))

	_, err = NewNodeContent("   ")
	assert.True(t, pkgerrors.IsValidation(err))

	cfg := config.DefaultDomainConfig()
	cfg.MaxContentLength = 3
	_, err = NewNodeContentWithConfig(strings.Repeat("x", 4), cfg)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestNormalizeTags(t *testing.T) {
	tags, err := NormalizeTags([]string{"#work", " home ", "work"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "home", "work"}, tags)

	_, err = NormalizeTag("#", nil)
	assert.Error(t, err)

	cfg := config.DefaultDomainConfig()
	cfg.MaxTagsPerNode = 1
	_, err = NormalizeTags([]string{"a", "b"}, cfg)
	assert.Error(t, err)
}
