package services

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// ExportTree returns the whole forest as nested nodes in sibling order.
func (s *NodeService) ExportTree(ctx context.Context) ([]*TreeNode, error) {
	roots, err := s.store.ListRoots(ctx)
	if err != nil {
		return nil, err
	}

	forest := make([]*TreeNode, 0, len(roots))
	stack := make([]*TreeNode, 0, len(roots))
	for _, r := range roots {
		tn := &TreeNode{NodeSnapshot: r.Snapshot(), Children: []*TreeNode{}}
		forest = append(forest, tn)
		stack = append(stack, tn)
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := s.store.ListChildren(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			tn := &TreeNode{NodeSnapshot: c.Snapshot(), Children: []*TreeNode{}}
			current.Children = append(current.Children, tn)
			stack = append(stack, tn)
		}
	}
	return forest, nil
}

// ExportDocument wraps the forest in the versioned JSON envelope
func (s *NodeService) ExportDocument(ctx context.Context) (*ExportDocument, error) {
	forest, err := s.ExportTree(ctx)
	if err != nil {
		return nil, err
	}
	return &ExportDocument{
		Version:    ExportVersion,
		ExportDate: time.Now().UTC(),
		Nodes:      forest,
	}, nil
}

// ImportTree creates the given outline under parentID, or as root nodes when
// parentID is zero. Top-level items are appended to the target group. The
// whole import is one unit of work. It returns the created top-level nodes.
func (s *NodeService) ImportTree(ctx context.Context, parentID valueobjects.NodeID, items []ImportNode) ([]*entities.Node, error) {
	if len(items) == 0 {
		return []*entities.Node{}, nil
	}

	type pending struct {
		node   *entities.Node
		parent valueobjects.NodeID
	}

	// build every entity before touching the store; the order is pre-order
	// so parents are inserted before their children
	var (
		ordered []pending
		top     []*entities.Node
	)
	type frame struct {
		item   ImportNode
		parent valueobjects.NodeID
		isTop  bool
	}
	stack := make([]frame, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		stack = append(stack, frame{item: items[i], parent: parentID, isTop: true})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(ordered) >= s.cfg.MaxImportNodes {
			return nil, pkgerrors.NewValidationError(
				fmt.Sprintf("import exceeds the limit of %d nodes", s.cfg.MaxImportNodes))
		}

		node, err := s.buildNode(f.item.Content, f.parent, f.item.Tags, f.item.Notes)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "import item %d", len(ordered))
		}
		expanded := true
		if f.item.IsExpanded != nil {
			expanded = *f.item.IsExpanded
		}
		node.InitFlags(f.item.IsCompleted, expanded, f.item.IsStarred)

		ordered = append(ordered, pending{node: node, parent: f.parent})
		if f.isTop {
			top = append(top, node)
		}
		for i := len(f.item.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{item: f.item.Children[i], parent: node.ID()})
		}
	}

	req := ports.LockRequest{Groups: []string{parentID.GroupKey()}}
	err := s.withLocks(ctx, req, func(ctx context.Context, store ports.NodeStore) error {
		for _, p := range ordered {
			if err := s.engine.InsertAt(ctx, store, p.node, p.parent, nil); err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.RecordMutation("import", err)
	if err != nil {
		return nil, err
	}

	created := make([]*entities.Node, len(ordered))
	for i, p := range ordered {
		created[i] = p.node
	}
	s.metrics.AddNodesCreated(len(created))
	s.logger.Info("Outline imported",
		zap.String("parentID", parentID.String()),
		zap.Int("count", len(created)),
	)
	s.publish(ctx, created...)
	return top, nil
}

// RenderMarkdown writes the forest as a Markdown task list, two spaces of
// indentation per level.
func RenderMarkdown(forest []*TreeNode, exportedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Outline Export\n\n")
	fmt.Fprintf(&b, "Exported on: %s\n\n", exportedAt.Format("2006-01-02"))
	walkTree(forest, func(n *TreeNode, depth int) {
		checkbox := "[ ]"
		if n.IsCompleted {
			checkbox = "[x]"
		}
		fmt.Fprintf(&b, "%s- %s %s%s\n", strings.Repeat("  ", depth), checkbox, escapeTagWords(n.Content), tagSuffix(n.Tags))
	})
	return b.String()
}

// RenderText writes the forest as a plain indented outline.
func RenderText(forest []*TreeNode, exportedAt time.Time) string {
	var b strings.Builder
	b.WriteString("Outline Export\n")
	fmt.Fprintf(&b, "Exported on: %s\n\n", exportedAt.Format("2006-01-02"))
	walkTree(forest, func(n *TreeNode, depth int) {
		mark := "○"
		if n.IsCompleted {
			mark = "✓"
		}
		fmt.Fprintf(&b, "%s%s %s%s\n", strings.Repeat("  ", depth), mark, n.Content, tagSuffix(n.Tags))
	})
	return b.String()
}

var (
	taskLine       = regexp.MustCompile(`^[-*]\s*\[([ xX])\]\s*(.+)$`)
	tagWord        = regexp.MustCompile(`^#[\w-]+$`)
	escapedTagWord = regexp.MustCompile(`^\\+#[\w-]+$`) // content word that looks like a tag
)

// ParseMarkdownOutline reads a Markdown task list as written by
// RenderMarkdown. Headings, blank lines and non-task lines are skipped.
// Nesting follows indentation in steps of two spaces.
func ParseMarkdownOutline(markdown string) ([]ImportNode, error) {
	type line struct {
		depth int
		node  ImportNode
	}

	var lines []line
	scanner := bufio.NewScanner(strings.NewReader(markdown))
	for scanner.Scan() {
		raw := strings.ReplaceAll(scanner.Text(), "\t", "  ")
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "Exported on:") {
			continue
		}
		m := taskLine.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		content, tags := splitTrailingTags(m[2])
		if content == "" {
			content = "Untitled"
		}

		indent := len(raw) - len(strings.TrimLeft(raw, " "))
		lines = append(lines, line{
			depth: indent / 2,
			node: ImportNode{
				Content:     content,
				IsCompleted: strings.EqualFold(m[1], "x"),
				Tags:        tags,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, pkgerrors.NewValidationError(fmt.Sprintf("read outline: %v", err))
	}

	// each line hangs under the nearest earlier line that is shallower
	children := make([][]int, len(lines))
	var top, open []int
	for i, l := range lines {
		for len(open) > 0 && lines[open[len(open)-1]].depth >= l.depth {
			open = open[:len(open)-1]
		}
		if len(open) == 0 {
			top = append(top, i)
		} else {
			parent := open[len(open)-1]
			children[parent] = append(children[parent], i)
		}
		open = append(open, i)
	}

	// children always follow their parent, so a reverse pass sees them complete
	for i := len(lines) - 1; i >= 0; i-- {
		for _, c := range children[i] {
			lines[i].node.Children = append(lines[i].node.Children, lines[c].node)
		}
	}

	var nodes []ImportNode
	for _, i := range top {
		nodes = append(nodes, lines[i].node)
	}
	return nodes, nil
}

// splitTrailingTags separates the run of #tag words at the end of a task
// line from its content. Escaped tag words in the content are unescaped.
func splitTrailingTags(text string) (string, []string) {
	words := strings.Fields(text)
	end := len(words)
	for end > 0 && tagWord.MatchString(words[end-1]) {
		end--
	}

	var tags []string
	for _, w := range words[end:] {
		tags = append(tags, strings.TrimPrefix(w, "#"))
	}

	content := words[:end]
	for i, w := range content {
		if escapedTagWord.MatchString(w) {
			content[i] = w[1:]
		}
	}
	return strings.Join(content, " "), tags
}

// escapeTagWords prefixes a backslash to every content word that would
// otherwise read back as a tag.
func escapeTagWords(content string) string {
	words := strings.Fields(content)
	changed := false
	for i, w := range words {
		if tagWord.MatchString(w) || escapedTagWord.MatchString(w) {
			words[i] = `\` + w
			changed = true
		}
	}
	if !changed {
		return content
	}
	return strings.Join(words, " ")
}

// walkTree visits nodes depth-first in sibling order
func walkTree(forest []*TreeNode, visit func(*TreeNode, int)) {
	type frame struct {
		node  *TreeNode
		depth int
	}
	stack := make([]frame, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, frame{forest[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(f.node, f.depth)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
}

func tagSuffix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	marked := make([]string, len(tags))
	for i, t := range tags {
		marked[i] = "#" + t
	}
	return " " + strings.Join(marked, " ")
}
