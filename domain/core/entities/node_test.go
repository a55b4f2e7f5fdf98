package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/domain/events"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

func newTestNode(t *testing.T, text string) *Node {
	t.Helper()
	content, err := valueobjects.NewNodeContent(text)
	require.NoError(t, err)
	node, err := NewNode(content, valueobjects.NodeID{}, []string{"work"}, "")
	require.NoError(t, err)
	return node
}

func TestNewNode_Defaults(t *testing.T) {
	node := newTestNode(t, "Write report")

	assert.False(t, node.ID().IsZero())
	assert.True(t, node.IsRoot())
	assert.True(t, node.IsExpanded())
	assert.False(t, node.IsCompleted())
	assert.False(t, node.IsStarred())
	assert.Equal(t, node.CreatedAt(), node.UpdatedAt())

	require.Len(t, node.GetUncommittedEvents(), 1)
	assert.Equal(t, events.TypeNodeCreated, node.GetUncommittedEvents()[0].GetEventType())
}

func TestNode_ToggleTwiceAdvancesUpdatedAt(t *testing.T) {
	node := newTestNode(t, "Task")
	original := node.IsCompleted()

	before := node.UpdatedAt()
	node.ToggleComplete()
	first := node.UpdatedAt()
	node.ToggleComplete()
	second := node.UpdatedAt()

	assert.Equal(t, original, node.IsCompleted())
	assert.True(t, first.After(before))
	assert.True(t, second.After(first))
	assert.Equal(t, node.CreatedAt(), node.Snapshot().CreatedAt)
}

func TestNode_Tags(t *testing.T) {
	node := newTestNode(t, "Task")

	assert.False(t, node.AddTag("work"))
	assert.True(t, node.AddTag("Home"))
	assert.Equal(t, []string{"work", "Home"}, node.Tags())
	assert.True(t, node.HasTagContaining("HOM"))

	assert.False(t, node.RemoveTag("absent"))
	assert.True(t, node.RemoveTag("work"))
	assert.Equal(t, []string{"Home"}, node.Tags())

	tags := node.Tags()
	tags[0] = "mutated"
	assert.Equal(t, []string{"Home"}, node.Tags())
}

func TestNode_PlaceRejectsSelfParent(t *testing.T) {
	node := newTestNode(t, "Task")
	err := node.Place(node.ID(), 0)
	assert.True(t, pkgerrors.IsCycle(err))

	err = node.Place(valueobjects.NodeID{}, -1)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestNode_MoveToRecordsEvent(t *testing.T) {
	node := newTestNode(t, "Task")
	node.MarkEventsAsCommitted()

	parent := valueobjects.NewNodeID()
	require.NoError(t, node.MoveTo(parent, 3))

	require.Len(t, node.GetUncommittedEvents(), 1)
	moved, ok := node.GetUncommittedEvents()[0].(events.NodeMoved)
	require.True(t, ok)
	assert.True(t, moved.OldParentID.IsZero())
	assert.True(t, moved.NewParentID.Equals(parent))
	assert.Equal(t, 3, moved.NewPosition)
}

func TestNode_RenumberReportsChange(t *testing.T) {
	node := newTestNode(t, "Task")
	assert.False(t, node.Renumber(0))
	assert.True(t, node.Renumber(2))
	assert.Equal(t, 2, node.Position())
}

func TestNode_SnapshotRoundTripAndJSON(t *testing.T) {
	node := newTestNode(t, "Task")
	node.UpdateNotes("remember")
	node.SetMirror(valueobjects.NewNodeID())

	restored, err := ReconstructNode(node.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, node.Snapshot(), restored.Snapshot())
	assert.Empty(t, restored.GetUncommittedEvents())

	data, err := json.Marshal(node)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Nil(t, raw["parentId"])
	assert.Equal(t, "Task", raw["content"])
	assert.Equal(t, true, raw["isExpanded"])
	assert.Contains(t, raw, "updatedAt")
}

func TestReconstructNode_Validation(t *testing.T) {
	id := valueobjects.NewNodeID()
	_, err := ReconstructNode(NodeSnapshot{ID: id, ParentID: id, Content: "x"})
	assert.Error(t, err)

	_, err = ReconstructNode(NodeSnapshot{ID: id, Content: ""})
	assert.Error(t, err)

	_, err = ReconstructNode(NodeSnapshot{ID: id, Content: "x", Position: -1})
	assert.Error(t, err)
}

func TestNode_CloneIsIndependent(t *testing.T) {
	node := newTestNode(t, "Task")
	clone := node.Clone()
	clone.AddTag("extra")
	clone.ToggleStar()

	assert.Equal(t, []string{"work"}, node.Tags())
	assert.False(t, node.IsStarred())
	assert.Len(t, node.GetUncommittedEvents(), 1)
	assert.Len(t, clone.GetUncommittedEvents(), 2)
}
