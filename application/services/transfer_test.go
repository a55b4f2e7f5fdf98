package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teesha-ghevariya/to-do/domain/config"
)

func TestExportTree_NestsInSiblingOrder(t *testing.T) {
	svc, _ := newTestService(t)
	a := create(t, svc, "A", rootID)
	create(t, svc, "B", rootID)
	x := create(t, svc, "X", a.ID())
	create(t, svc, "Y", a.ID())
	create(t, svc, "Z", x.ID())

	forest, err := svc.ExportTree(context.Background())
	require.NoError(t, err)
	require.Len(t, forest, 2)
	assert.Equal(t, "A", forest[0].Content)
	assert.Equal(t, "B", forest[1].Content)
	require.Len(t, forest[0].Children, 2)
	assert.Equal(t, "X", forest[0].Children[0].Content)
	assert.Equal(t, "Y", forest[0].Children[1].Content)
	assert.Equal(t, "Z", forest[0].Children[0].Children[0].Content)
	assert.NotNil(t, forest[1].Children)
}

func TestExportDocument_JSON(t *testing.T) {
	svc, _ := newTestService(t)
	create(t, svc, "A", rootID)

	doc, err := svc.ExportDocument(context.Background())
	require.NoError(t, err)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ExportVersion, decoded["version"])
	nodes := decoded["nodes"].([]interface{})
	require.Len(t, nodes, 1)
	first := nodes[0].(map[string]interface{})
	assert.Equal(t, "A", first["content"])
	assert.Nil(t, first["parentId"])
	assert.Equal(t, []interface{}{}, first["children"])
}

func TestImportTree_CreatesOutlineUnderParent(t *testing.T) {
	svc, store := newTestService(t)
	target := create(t, svc, "Inbox", rootID)
	create(t, svc, "Existing", target.ID())

	collapsed := false
	top, err := svc.ImportTree(context.Background(), target.ID(), []ImportNode{
		{Content: "Trip", IsExpanded: &collapsed, Children: []ImportNode{
			{Content: "Book flights", IsCompleted: true},
			{Content: "Pack", Tags: []string{"#home"}},
		}},
		{Content: "Taxes", IsStarred: true},
	})
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.False(t, top[0].IsExpanded())
	assert.True(t, top[1].IsStarred())

	assert.Equal(t, []string{"Existing", "Trip", "Taxes"}, childNames(t, svc, target.ID()))
	assert.Equal(t, []string{"Book flights", "Pack"}, childNames(t, svc, top[0].ID()))
	assert.Equal(t, 6, store.Len())
}

func TestImportTree_LimitIsAllOrNothing(t *testing.T) {
	svc, store := newTestService(t)
	cfg := *config.DefaultDomainConfig()
	cfg.MaxImportNodes = 2
	svc.cfg = &cfg

	_, err := svc.ImportTree(context.Background(), rootID, []ImportNode{
		{Content: "a", Children: []ImportNode{{Content: "b"}, {Content: "c"}}},
	})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())

	_, err = svc.ImportTree(context.Background(), rootID, []ImportNode{{Content: "ok"}, {Content: " "}})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestImportTree_MissingParent(t *testing.T) {
	svc, store := newTestService(t)
	missing := create(t, svc, "gone", rootID).ID()
	_, err := svc.DeleteNode(context.Background(), missing)
	require.NoError(t, err)

	_, err = svc.ImportTree(context.Background(), missing, []ImportNode{{Content: "x"}})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestRenderMarkdown(t *testing.T) {
	forest := []*TreeNode{
		{Children: []*TreeNode{{}}},
	}
	forest[0].Content = "Trip"
	forest[0].Tags = []string{"travel"}
	forest[0].Children[0].Content = "Book flights"
	forest[0].Children[0].IsCompleted = true

	got := RenderMarkdown(forest, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "# Outline Export\n\nExported on: 2024-03-09\n\n"+
		"- [ ] Trip #travel\n"+
		"  - [x] Book flights\n", got)

	text := RenderText(forest, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC))
	assert.Contains(t, text, "○ Trip #travel\n")
	assert.Contains(t, text, "  ✓ Book flights\n")
}

func TestParseMarkdownOutline(t *testing.T) {
	md := strings.Join([]string{
		"# Outline Export",
		"",
		"Exported on: 2024-03-09",
		"",
		"- [ ] Trip #travel",
		"  - [x] Book flights",
		"  - [ ] Pack",
		"    - [ ] #gear",
		"some stray paragraph",
		"* [X] Taxes",
	}, "\n")

	nodes, err := ParseMarkdownOutline(md)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	trip := nodes[0]
	assert.Equal(t, "Trip", trip.Content)
	assert.Equal(t, []string{"travel"}, trip.Tags)
	require.Len(t, trip.Children, 2)
	assert.True(t, trip.Children[0].IsCompleted)
	require.Len(t, trip.Children[1].Children, 1)
	assert.Equal(t, "Untitled", trip.Children[1].Children[0].Content)
	assert.Equal(t, []string{"gear"}, trip.Children[1].Children[0].Tags)

	assert.Equal(t, "Taxes", nodes[1].Content)
	assert.True(t, nodes[1].IsCompleted)
}

func TestMarkdown_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	a := create(t, svc, "Trip", rootID)
	_, err := svc.AddTag(context.Background(), a.ID(), "travel")
	require.NoError(t, err)
	x := create(t, svc, "Book flights", a.ID())
	_, err = svc.ToggleComplete(context.Background(), x.ID())
	require.NoError(t, err)
	create(t, svc, "Taxes", rootID)

	forest, err := svc.ExportTree(context.Background())
	require.NoError(t, err)
	md := RenderMarkdown(forest, time.Unix(0, 0))

	other, _ := newTestService(t)
	items, err := ParseMarkdownOutline(md)
	require.NoError(t, err)
	_, err = other.ImportTree(context.Background(), rootID, items)
	require.NoError(t, err)

	reimported, err := other.ExportTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, md, RenderMarkdown(reimported, time.Unix(0, 0)))
}

func TestMarkdown_HashWordsInContentSurvive(t *testing.T) {
	forest := []*TreeNode{{}, {}}
	forest[0].Content = "Fix issue #42"
	forest[0].Tags = []string{"bug"}
	forest[1].Content = `Escaped \#already in #middle`

	md := RenderMarkdown(forest, time.Unix(0, 0))
	assert.Contains(t, md, `- [ ] Fix issue \#42 #bug`+"\n")

	nodes, err := ParseMarkdownOutline(md)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "Fix issue #42", nodes[0].Content)
	assert.Equal(t, []string{"bug"}, nodes[0].Tags)
	assert.Equal(t, `Escaped \#already in #middle`, nodes[1].Content)
	assert.Empty(t, nodes[1].Tags)
}

func TestParseMarkdownOutline_OnlyTrailingTags(t *testing.T) {
	nodes, err := ParseMarkdownOutline("- [ ] Ship #3 today #work #urgent")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Ship #3 today", nodes[0].Content)
	assert.Equal(t, []string{"work", "urgent"}, nodes[0].Tags)
}

func TestParseMarkdownOutline_DeepAndUneven(t *testing.T) {
	var lines []string
	for depth := 0; depth < 2000; depth++ {
		lines = append(lines, fmt.Sprintf("%s- [ ] level %d", strings.Repeat("  ", depth), depth))
	}
	// a shallower line closes every open level above it
	lines = append(lines, "  - [ ] second child", "- [ ] second root")

	nodes, err := ParseMarkdownOutline(strings.Join(lines, "\n"))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "second root", nodes[1].Content)

	first := nodes[0]
	require.Len(t, first.Children, 2)
	assert.Equal(t, "second child", first.Children[1].Content)

	depth := 0
	for n := first; len(n.Children) > 0; n = n.Children[0] {
		depth++
	}
	assert.Equal(t, 1999, depth)
}
