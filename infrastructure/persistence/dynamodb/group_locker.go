package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	pkgerrors "github.com/teesha-ghevariya/to-do/pkg/errors"
)

var (
	// errLockHeld reports a lock record owned by someone else
	errLockHeld = errors.New("lock already held")
	// errLockLost reports a lease that ran out and was taken over
	errLockLost = errors.New("lock lost to another holder")
)

// lockRecord represents a lock record in DynamoDB
type lockRecord struct {
	PK         string `dynamodbav:"PK"` // LOCK#<group key>
	SK         string `dynamodbav:"SK"` // LOCK
	LockID     string `dynamodbav:"LockID"`
	Owner      string `dynamodbav:"Owner"`
	AcquiredAt string `dynamodbav:"AcquiredAt"`
	ExpiresAt  int64  `dynamodbav:"ExpiresAt"` // unix milliseconds
	TTL        int64  `dynamodbav:"TTL"`       // unix seconds for DynamoDB TTL
}

// GroupLocker implements ports.GroupLocker with conditional writes, so that
// several API instances serialize on the same sibling groups. Held leases
// are extended every third of the lease until released. A record whose lease
// ran out may be taken over by the next caller.
type GroupLocker struct {
	client        Client
	tableName     string
	owner         string
	lease         time.Duration
	renewInterval time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewGroupLocker creates a distributed group locker. lease bounds how long a
// crashed holder can block a group.
func NewGroupLocker(client Client, tableName string, lease time.Duration, logger *zap.Logger) *GroupLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	renew := lease / 3
	if renew < time.Millisecond {
		renew = time.Millisecond
	}
	return &GroupLocker{
		client:        client,
		tableName:     tableName,
		owner:         uuid.New().String(),
		lease:         lease,
		renewInterval: renew,
		retryInterval: 50 * time.Millisecond,
		logger:        logger,
	}
}

type heldLock struct {
	key    string
	lockID string
}

// Acquire takes every lock of req in canonical order, retrying contended
// keys until ctx is done.
func (l *GroupLocker) Acquire(ctx context.Context, req ports.LockRequest) (func(), error) {
	keys := req.Keys()
	held := make([]heldLock, 0, len(keys))

	for _, key := range keys {
		lock, err := l.acquireOne(ctx, key)
		if err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, lock)
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(held, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			l.releaseAll(held)
		})
	}, nil
}

// keepAlive extends the leases of held until stop is closed
func (l *GroupLocker) keepAlive(held []heldLock, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renewInterval)
			for _, lock := range held {
				if err := l.extend(ctx, lock); err != nil {
					l.logger.Warn("Failed to extend group lock",
						zap.Error(err),
						zap.String("group", lock.key),
						zap.String("lockID", lock.lockID),
					)
				}
			}
			cancel()
		}
	}
}

func (l *GroupLocker) extend(ctx context.Context, lock heldLock) error {
	expiresAt := time.Now().Add(l.lease)
	update := expression.Set(expression.Name("ExpiresAt"), expression.Value(expiresAt.UnixMilli())).
		Set(expression.Name("TTL"), expression.Value(expiresAt.Unix()))
	cond := expression.Name("LockID").Equal(expression.Value(lock.lockID))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(l.tableName),
		Key:                       lockKey(lock.key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return errLockLost
		}
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	return nil
}

func (l *GroupLocker) acquireOne(ctx context.Context, key string) (heldLock, error) {
	interval := l.retryInterval
	for {
		lock, err := l.tryAcquire(ctx, key)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, errLockHeld) {
			if ctx.Err() != nil {
				return heldLock{}, pkgerrors.NewLockTimeoutError(key, ctx.Err())
			}
			return heldLock{}, pkgerrors.NewStoreFailure("acquire lock", err)
		}

		select {
		case <-ctx.Done():
			return heldLock{}, pkgerrors.NewLockTimeoutError(key, ctx.Err())
		case <-time.After(interval):
			if interval < time.Second {
				interval = time.Duration(float64(interval) * 1.5)
			}
		}
	}
}

func (l *GroupLocker) tryAcquire(ctx context.Context, key string) (heldLock, error) {
	now := time.Now()
	expiresAt := now.Add(l.lease)
	lockID := fmt.Sprintf("%s_%d", l.owner, now.UnixNano())

	item, err := attributevalue.MarshalMap(lockRecord{
		PK:         "LOCK#" + key,
		SK:         "LOCK",
		LockID:     lockID,
		Owner:      l.owner,
		AcquiredAt: now.UTC().Format(time.RFC3339),
		ExpiresAt:  expiresAt.UnixMilli(),
		TTL:        expiresAt.Unix(),
	})
	if err != nil {
		return heldLock{}, fmt.Errorf("failed to marshal lock: %w", err)
	}

	cond := expression.Name("PK").AttributeNotExists().
		Or(expression.Name("ExpiresAt").LessThan(expression.Value(now.UnixMilli())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return heldLock{}, fmt.Errorf("failed to build lock condition: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(l.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return heldLock{}, errLockHeld
		}
		return heldLock{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.logger.Debug("Group lock acquired",
		zap.String("group", key),
		zap.String("lockID", lockID),
	)
	return heldLock{key: key, lockID: lockID}, nil
}

// releaseAll deletes the held records in reverse order. It runs after the
// request context may already be canceled, so it uses its own deadline.
func (l *GroupLocker) releaseAll(held []heldLock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(held) - 1; i >= 0; i-- {
		if err := l.release(ctx, held[i]); err != nil {
			l.logger.Error("Failed to release group lock",
				zap.Error(err),
				zap.String("group", held[i].key),
			)
		}
	}
}

func (l *GroupLocker) release(ctx context.Context, lock heldLock) error {
	cond := expression.Name("LockID").Equal(expression.Value(lock.lockID))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return err
	}

	_, err = l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(l.tableName),
		Key:                       lockKey(lock.key),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			// lease expired and someone else took the group over
			l.logger.Warn("Group lock already released or taken over",
				zap.String("group", lock.key),
				zap.String("lockID", lock.lockID),
			)
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func lockKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "LOCK#" + key},
		"SK": &types.AttributeValueMemberS{Value: "LOCK"},
	}
}

var _ ports.GroupLocker = (*GroupLocker)(nil)
