package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%milk%", likePattern("milk"))
	assert.Equal(t, `%100\%\_done\\%`, likePattern(`100%_done\`))
}

func TestModel_RootAndMirror(t *testing.T) {
	content, err := valueobjects.NewNodeContent("Task")
	require.NoError(t, err)
	node, err := entities.NewNode(content, valueobjects.NodeID{}, nil, "")
	require.NoError(t, err)
	node.SetMirror(valueobjects.NewNodeID())

	m := toModel(node)
	assert.Nil(t, m.ParentID)
	require.NotNil(t, m.MirrorID)
	assert.Equal(t, []string{}, m.Tags)

	back, err := m.toNode()
	require.NoError(t, err)
	assert.True(t, back.IsRoot())
	assert.True(t, back.MirrorID().Equals(node.MirrorID()))
}

func TestUpsert_WritesFalseAndEmptyFields(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=outliner dbname=outliner sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	content, err := valueobjects.NewNodeContent("Collapsed")
	require.NoError(t, err)
	node, err := entities.NewNode(content, valueobjects.NodeID{}, nil, "")
	require.NoError(t, err)
	node.SetExpanded(false)

	m := toModel(node)
	stmt := upsert(db, &m).Statement

	assert.False(t, m.IsExpanded)
	assert.Equal(t, "", m.Notes)

	falses := 0
	for _, v := range stmt.Vars {
		if b, ok := v.(bool); ok && !b {
			falses++
		}
	}
	assert.Equal(t, 3, falses, "completed, expanded and starred must all be bound as false")
	assert.Contains(t, stmt.SQL.String(), `"is_expanded"="excluded"."is_expanded"`)
}

// newTestStore connects to OUTLINER_TEST_DATABASE_URL and starts from an
// empty nodes table.
func newTestStore(t *testing.T) *NodeStore {
	t.Helper()
	dsn := os.Getenv("OUTLINER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("OUTLINER_TEST_DATABASE_URL not set")
	}

	db, err := Open(dsn, Options{MaxOpenConns: 5})
	require.NoError(t, err)
	store := NewNodeStore(db, zap.NewNop())
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, db.Exec("TRUNCATE TABLE nodes").Error)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newService(store *NodeStore) *services.NodeService {
	return services.NewNodeService(store, store, services.NewKeyedLocker(), nil, nil,
		services.NodeServiceConfig{LockTimeout: 5 * time.Second}, zap.NewNop())
}

func TestNodeStore_TreeOperations(t *testing.T) {
	store := newTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	create := func(content string, parent valueobjects.NodeID) *entities.Node {
		n, err := svc.CreateNode(ctx, services.CreateNodeInput{Content: content, ParentID: parent, Tags: []string{"Errands"}})
		require.NoError(t, err)
		return n
	}
	a := create("A", valueobjects.NodeID{})
	b := create("B", valueobjects.NodeID{})
	c := create("C", valueobjects.NodeID{})
	create("X", a.ID())
	create("Y", a.ID())

	pos := 0
	_, err := svc.MoveNode(ctx, c.ID(), a.ID(), &pos)
	require.NoError(t, err)

	children, err := store.ListChildren(ctx, a.ID())
	require.NoError(t, err)
	require.Len(t, children, 3)
	for i, n := range children {
		assert.Equal(t, i, n.Position())
	}
	assert.Equal(t, "C", children[0].Content().String())

	_, err = svc.MoveNode(ctx, a.ID(), c.ID(), nil)
	assert.True(t, pkgerrors.IsCycle(err))

	count, err := svc.DeleteNode(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	roots, err := store.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.True(t, roots[0].ID().Equals(b.ID()))
	assert.Equal(t, 0, roots[0].Position())
}

func TestNodeStore_Search(t *testing.T) {
	store := newTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, services.CreateNodeInput{Content: "Buy 100% milk", Tags: []string{"Errands"}, IsStarred: true})
	require.NoError(t, err)
	_, err = svc.CreateNode(ctx, services.CreateNodeInput{Content: "Buy stamps", IsCompleted: true})
	require.NoError(t, err)

	found, err := store.SearchByContent(ctx, "100%")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = store.SearchByTag(ctx, "errand")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = store.ListByCompleted(ctx, true)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = store.ListStarred(ctx)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	max, ok, err := store.MaxPosition(ctx, valueobjects.NodeID{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, max)
}

func TestTransaction_Rollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	content, err := valueobjects.NewNodeContent("Task")
	require.NoError(t, err)
	node, err := entities.NewNode(content, valueobjects.NodeID{}, nil, "")
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Nodes().Save(ctx, node))

	exists, err := tx.Nodes().Exists(ctx, node.ID())
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	exists, err = store.Exists(ctx, node.ID())
	require.NoError(t, err)
	assert.False(t, exists)
}
