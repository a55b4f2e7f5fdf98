package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/domain/core/entities"
	"github.com/teesha-ghevariya/to-do/domain/core/valueobjects"
	"github.com/teesha-ghevariya/to-do/infrastructure/persistence/txbuffer"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

// maxTransactItems is the DynamoDB limit on actions per TransactWriteItems call
const maxTransactItems = 100

// NodeStore implements ports.NodeStore and ports.UnitOfWork on DynamoDB.
// Save and Delete outside of Begin each commit a single-node transaction.
type NodeStore struct {
	client    Client
	tableName string
	logger    *zap.Logger
}

// NewNodeStore creates a new DynamoDB node store
func NewNodeStore(client Client, tableName string, logger *zap.Logger) *NodeStore {
	return &NodeStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Ping checks that the table is reachable
func (s *NodeStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return pkgerrors.NewStoreFailure("describe_table", err)
	}
	return nil
}

// Get retrieves a node by ID
func (s *NodeStore) Get(ctx context.Context, id valueobjects.NodeID) (*entities.Node, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            nodeKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("get node", err)
	}
	if len(out.Item) == 0 {
		return nil, pkgerrors.NewNodeNotFoundError(id.String())
	}

	node, err := fromItem(out.Item)
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("decode node", err)
	}
	return node, nil
}

// Exists checks whether a node is stored
func (s *NodeStore) Exists(ctx context.Context, id valueobjects.NodeID) (bool, error) {
	_, err := s.Get(ctx, id)
	if pkgerrors.IsNodeNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ListRoots returns root nodes ordered by position
func (s *NodeStore) ListRoots(ctx context.Context) ([]*entities.Node, error) {
	return s.ListChildren(ctx, valueobjects.NodeID{})
}

// ListChildren queries the sibling group of parentID
func (s *NodeStore) ListChildren(ctx context.Context, parentID valueobjects.NodeID) ([]*entities.Node, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(groupPK(parentID)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("build query", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	nodes := make([]*entities.Node, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewStoreFailure("list children", err)
		}
		if nodes, err = appendItems(nodes, page.Items); err != nil {
			return nil, err
		}
	}
	entities.SortByPosition(nodes)
	return nodes, nil
}

// MaxPosition returns the highest position among the children of parentID
func (s *NodeStore) MaxPosition(ctx context.Context, parentID valueobjects.NodeID) (int, bool, error) {
	children, err := s.ListChildren(ctx, parentID)
	if err != nil || len(children) == 0 {
		return 0, false, err
	}

	max := children[0].Position()
	for _, c := range children[1:] {
		if c.Position() > max {
			max = c.Position()
		}
	}
	return max, true, nil
}

// Save writes both items of a node in its own transaction
func (s *NodeStore) Save(ctx context.Context, node *entities.Node) error {
	tx := s.newTransaction()
	if err := tx.buffer.Save(ctx, node); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Delete removes both items of a node in its own transaction
func (s *NodeStore) Delete(ctx context.Context, id valueobjects.NodeID) error {
	tx := s.newTransaction()
	if err := tx.buffer.Delete(ctx, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SearchByContent finds nodes whose content contains q, ignoring case
func (s *NodeStore) SearchByContent(ctx context.Context, q string) ([]*entities.Node, error) {
	return s.scan(ctx, expression.Name("ContentLower").Contains(strings.ToLower(q)), nil)
}

// SearchByTag finds nodes with a tag containing q, ignoring case. Substring
// matching on list elements is not expressible in a filter, so the tag test
// runs on the decoded nodes.
func (s *NodeStore) SearchByTag(ctx context.Context, q string) ([]*entities.Node, error) {
	return s.scan(ctx, expression.Name("Tags").Size().GreaterThan(expression.Value(0)), func(n *entities.Node) bool {
		return n.HasTagContaining(q)
	})
}

// ListByCompleted returns nodes by completion status
func (s *NodeStore) ListByCompleted(ctx context.Context, completed bool) ([]*entities.Node, error) {
	return s.scan(ctx, expression.Name("IsCompleted").Equal(expression.Value(completed)), nil)
}

// ListStarred returns starred nodes
func (s *NodeStore) ListStarred(ctx context.Context) ([]*entities.Node, error) {
	return s.scan(ctx, expression.Name("IsStarred").Equal(expression.Value(true)), nil)
}

// scan reads every node item matching cond, and match when given
func (s *NodeStore) scan(ctx context.Context, cond expression.ConditionBuilder, match func(*entities.Node) bool) ([]*entities.Node, error) {
	filter := expression.Name("ItemType").Equal(expression.Value(itemTypeNode)).And(cond)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, pkgerrors.NewStoreFailure("build scan", err)
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	nodes := make([]*entities.Node, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewStoreFailure("scan nodes", err)
		}
		if nodes, err = appendItems(nodes, page.Items); err != nil {
			return nil, err
		}
	}

	if match != nil {
		kept := nodes[:0]
		for _, n := range nodes {
			if match(n) {
				kept = append(kept, n)
			}
		}
		nodes = kept
	}
	entities.SortByPosition(nodes)
	return nodes, nil
}

func appendItems(nodes []*entities.Node, items []map[string]types.AttributeValue) ([]*entities.Node, error) {
	for _, item := range items {
		node, err := fromItem(item)
		if err != nil {
			return nil, pkgerrors.NewStoreFailure("decode node", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Begin starts a transaction. Writes are buffered and sent as one
// TransactWriteItems call on Commit.
func (s *NodeStore) Begin(ctx context.Context) (ports.Transaction, error) {
	return s.newTransaction(), nil
}

func (s *NodeStore) newTransaction() *transaction {
	return &transaction{store: s, buffer: txbuffer.New(s)}
}

type transaction struct {
	store  *NodeStore
	buffer *txbuffer.Buffer
	done   bool
}

func (t *transaction) Nodes() ports.NodeStore {
	return t.buffer
}

// Commit converts the buffered changes into one TransactWriteItems call.
// Each node put is conditioned on the UpdatedAt read while building the
// call, and a moved node also drops its old membership item.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return pkgerrors.NewInternalError("transaction already finished")
	}

	saved, deleted := t.buffer.Changes()
	if len(saved) == 0 && len(deleted) == 0 {
		t.done = true
		return nil
	}

	writes, err := t.writeItems(ctx, saved, deleted)
	if err != nil {
		return err
	}
	if len(writes) > maxTransactItems {
		return pkgerrors.NewValidationError(fmt.Sprintf(
			"operation needs %d writes, more than the %d a DynamoDB transaction allows",
			len(writes), maxTransactItems))
	}

	_, err = t.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			t.store.logger.Warn("Node transaction canceled",
				zap.Error(err),
				zap.Int("saved", len(saved)),
				zap.Int("deleted", len(deleted)),
			)
		}
		return pkgerrors.NewStoreFailure("commit", err)
	}

	t.done = true
	t.store.logger.Debug("Node transaction committed",
		zap.Int("saved", len(saved)),
		zap.Int("deleted", len(deleted)),
		zap.Int("items", len(writes)),
	)
	return nil
}

func (t *transaction) writeItems(ctx context.Context, saved []*entities.Node, deleted []valueobjects.NodeID) ([]types.TransactWriteItem, error) {
	table := aws.String(t.store.tableName)
	writes := make([]types.TransactWriteItem, 0, 2*(len(saved)+len(deleted)))

	for _, n := range saved {
		prev, err := t.store.Get(ctx, n.ID())
		if err != nil && !pkgerrors.IsNodeNotFound(err) {
			return nil, err
		}

		var cond expression.ConditionBuilder
		if prev == nil {
			cond = expression.Name("PK").AttributeNotExists()
		} else {
			cond = expression.Name("UpdatedAt").Equal(expression.Value(toRecord(prev).UpdatedAt))
		}
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return nil, pkgerrors.NewStoreFailure("build condition", err)
		}

		nodeItem, memberItem, err := items(n)
		if err != nil {
			return nil, pkgerrors.NewStoreFailure("encode node", err)
		}
		writes = append(writes,
			types.TransactWriteItem{Put: &types.Put{
				TableName:                 table,
				Item:                      nodeItem,
				ConditionExpression:       expr.Condition(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			}},
			types.TransactWriteItem{Put: &types.Put{TableName: table, Item: memberItem}},
		)
		if prev != nil && !prev.ParentID().Equals(n.ParentID()) {
			writes = append(writes, types.TransactWriteItem{Delete: &types.Delete{
				TableName: table,
				Key:       memberKey(prev.ParentID(), n.ID()),
			}})
		}
	}

	for _, id := range deleted {
		prev, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		writes = append(writes,
			types.TransactWriteItem{Delete: &types.Delete{TableName: table, Key: nodeKey(id)}},
			types.TransactWriteItem{Delete: &types.Delete{TableName: table, Key: memberKey(prev.ParentID(), id)}},
		)
	}
	return writes, nil
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.buffer.Reset()
	t.done = true
	return nil
}

var (
	_ ports.NodeStore  = (*NodeStore)(nil)
	_ ports.UnitOfWork = (*NodeStore)(nil)
)
