// Package postgres stores nodes in PostgreSQL through GORM. Transactions map
// directly onto database transactions, so reads inside a unit of work see
// its own writes without buffering.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// nodeModel is the nodes table. Columns carry no defaults: GORM would write
// the default in place of a false or empty field.
type nodeModel struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	ParentID    *string   `gorm:"type:uuid;index:idx_nodes_parent_position,priority:1"`
	Position    int       `gorm:"not null;index:idx_nodes_parent_position,priority:2"`
	Content     string    `gorm:"type:text;not null"`
	IsCompleted bool      `gorm:"not null;index"`
	IsExpanded  bool      `gorm:"not null"`
	IsStarred   bool      `gorm:"not null;index"`
	Tags        []string  `gorm:"type:jsonb;serializer:json;not null"`
	Notes       string    `gorm:"type:text;not null"`
	MirrorID    *string   `gorm:"type:uuid"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (nodeModel) TableName() string { return "nodes" }

// Options configures the connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and configures the connection pool
func Open(dsn string, opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return db, nil
}

// NodeStore implements ports.NodeStore and ports.UnitOfWork with GORM
type NodeStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewNodeStore creates a new PostgreSQL node store
func NewNodeStore(db *gorm.DB, logger *zap.Logger) *NodeStore {
	return &NodeStore{db: db, logger: logger}
}

// Migrate creates or updates the nodes table and its indexes
func (s *NodeStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&nodeModel{})
}

// Close closes the database connection
func (s *NodeStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity
func (s *NodeStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Get retrieves a node by ID
func (s *NodeStore) Get(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	var m nodeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewNodeNotFoundError(id.String())
		}
		return nil, pkgerrors.NewStoreFailure("get node", err)
	}
	return m.toNode()
}

// Exists checks whether a node is stored
func (s *NodeStore) Exists(ctx context.Context, id valueobjects.NodeID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&nodeModel{}).Where("id = ?", id.String()).Count(&count).Error
	if err != nil {
		return false, pkgerrors.NewStoreFailure("check node", err)
	}
	return count > 0, nil
}

// ListRoots returns root nodes ordered by position
func (s *NodeStore) ListRoots(ctx context.Context) ([]*entities.Node, error) {
	return s.ListChildren(ctx, valueobjects.NodeID{})
}

// ListChildren returns the children of parentID ordered by position
func (s *NodeStore) ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error) {
	return s.find(ctx, "list children", s.inGroup(ctx, parentID).Order("position, id"))
}

// MaxPosition returns the highest position among the children of parentID
func (s *NodeStore) MaxPosition(ctx context.Context, parentID valueobjects.NodeID) (int, bool, error) {
	var max sql.NullInt64
	if err := s.inGroup(ctx, parentID).Select("MAX(position)").Row().Scan(&max); err != nil {
		return 0, false, pkgerrors.NewStoreFailure("max position", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return int(max.Int64), true, nil
}

// Save inserts or replaces a node
func (s *NodeStore) Save(ctx context.Context, node *entities.Node) error {
	m := toModel(node)
	if err := upsert(s.db.WithContext(ctx), &m).Error; err != nil {
		return pkgerrors.NewStoreFailure("save node", err)
	}
	return nil
}

// Delete removes a node
func (s *NodeStore) Delete(ctx context.Context, id valueobjects.NodeID) error {
	result := s.db.WithContext(ctx).Delete(&nodeModel{}, "id = ?", id.String())
	if result.Error != nil {
		return pkgerrors.NewStoreFailure("delete node", result.Error)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.NewNodeNotFoundError(id.String())
	}
	return nil
}

// SearchByContent finds nodes whose content contains q, ignoring case
func (s *NodeStore) SearchByContent(ctx context.Context, q string) ([]*entities.Node, error) {
	query := s.db.WithContext(ctx).Where(`content ILIKE ? ESCAPE '\'`, likePattern(q))
	return s.find(ctx, "search content", query)
}

// SearchByTag finds nodes with a tag containing q, ignoring case
func (s *NodeStore) SearchByTag(ctx context.Context, q string) ([]*entities.Node, error) {
	query := s.db.WithContext(ctx).Where(
		`EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) AS tag WHERE tag ILIKE ? ESCAPE '\')`,
		likePattern(q),
	)
	return s.find(ctx, "search tags", query)
}

// ListByCompleted returns nodes by completion status
func (s *NodeStore) ListByCompleted(ctx context.Context, completed bool) ([]*entities.Node, error) {
	return s.find(ctx, "list by completed", s.db.WithContext(ctx).Where("is_completed = ?", completed))
}

// ListStarred returns starred nodes
func (s *NodeStore) ListStarred(ctx context.Context) ([]*entities.Node, error) {
	return s.find(ctx, "list starred", s.db.WithContext(ctx).Where("is_starred = ?", true))
}

func (s *NodeStore) inGroup(ctx context.Context, parentID valueobjects.NodeID) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&nodeModel{})
	if parentID.IsZero() {
		return query.Where("parent_id IS NULL")
	}
	return query.Where("parent_id = ?", parentID.String())
}

func (s *NodeStore) find(ctx context.Context, op string, query *gorm.DB) ([]*entities.Node, error) {
	var models []nodeModel
	if err := query.Find(&models).Error; err != nil {
		return nil, pkgerrors.NewStoreFailure(op, err)
	}

	nodes := make([]*entities.Node, 0, len(models))
	for _, m := range models {
		node, err := m.toNode()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	entities.SortByPosition(nodes)
	return nodes, nil
}

// Begin starts a database transaction
func (s *NodeStore) Begin(ctx context.Context) (ports.Transaction, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, pkgerrors.NewStoreFailure("begin", tx.Error)
	}
	return &transaction{tx: tx, nodes: &NodeStore{db: tx, logger: s.logger}}, nil
}

type transaction struct {
	tx    *gorm.DB
	nodes *NodeStore
	done  bool
}

func (t *transaction) Nodes() ports.NodeStore {
	return t.nodes
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return pkgerrors.NewInternalError("transaction already finished")
	}
	t.done = true
	if err := t.tx.Commit().Error; err != nil {
		return pkgerrors.NewStoreFailure("commit", err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// upsert inserts m or overwrites every column of the existing row
func upsert(db *gorm.DB, m *nodeModel) *gorm.DB {
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(m)
}

func likePattern(q string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	return "%" + escaped + "%"
}

func toModel(n *entities.Node) nodeModel {
	s := n.Snapshot()
	m := nodeModel{
		ID:          s.ID.String(),
		Position:    s.Position,
		Content:     s.Content,
		IsCompleted: s.IsCompleted,
		IsExpanded:  s.IsExpanded,
		IsStarred:   s.IsStarred,
		Tags:        s.Tags,
		Notes:       s.Notes,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if !s.ParentID.IsZero() {
		parent := s.ParentID.String()
		m.ParentID = &parent
	}
	if !s.MirrorID.IsZero() {
		mirror := s.MirrorID.String()
		m.MirrorID = &mirror
	}
	return m
}

func (m nodeModel) toNode() (*entities.Node, error) {
	id, err := valueobjects.NewNodeIDFromString(m.ID)
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("decode node", err)
	}

	var parentID, mirrorID valueobjects.NodeID
	if m.ParentID != nil {
		if parentID, err = valueobjects.NewNodeIDFromString(*m.ParentID); err != nil {
			return nil, pkgerrors.NewStoreFailure("decode node", err)
		}
	}
	if m.MirrorID != nil {
		if mirrorID, err = valueobjects.NewNodeIDFromString(*m.MirrorID); err != nil {
			return nil, pkgerrors.NewStoreFailure("decode node", err)
		}
	}

	node, err := entities.ReconstructNode(entities.NodeSnapshot{
		ID:          id,
		Content:     m.Content,
		ParentID:    parentID,
		Position:    m.Position,
		IsCompleted: m.IsCompleted,
		IsExpanded:  m.IsExpanded,
		IsStarred:   m.IsStarred,
		Tags:        m.Tags,
		Notes:       m.Notes,
		MirrorID:    mirrorID,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("decode node", err)
	}
	return node, nil
}

var (
	_ ports.NodeStore  = (*NodeStore)(nil)
	_ ports.UnitOfWork = (*NodeStore)(nil)
)
