package dynamodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teesha-ghevariya/to-do/application/ports"
)

// lockClient records the lock calls of a GroupLocker. Puts always succeed.
type lockClient struct {
	Client

	mu        sync.Mutex
	updated   []string
	deleted   []string
	takenOver bool
}

func (c *lockClient) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (c *lockClient) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, in.Key["PK"].(*types.AttributeValueMemberS).Value)
	if c.takenOver {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (c *lockClient) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, in.Key["PK"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (c *lockClient) updates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.updated...)
}

func TestGroupLocker_ExtendsLeaseWhileHeld(t *testing.T) {
	client := &lockClient{}
	locker := NewGroupLocker(client, "nodes", 30*time.Millisecond, zap.NewNop())

	release, err := locker.Acquire(context.Background(), ports.LockRequest{Groups: []string{"root"}, Reparent: true})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(client.updates()) >= 4
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, client.updates(), "LOCK#root")
	assert.Contains(t, client.updates(), "LOCK#"+ports.ReparentLockKey)

	release()
	extended := len(client.updates())
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, client.updates(), extended, "no extension after release")

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.ElementsMatch(t, []string{"LOCK#root", "LOCK#" + ports.ReparentLockKey}, client.deleted)
}

func TestGroupLocker_LostLeaseIsLogged(t *testing.T) {
	client := &lockClient{takenOver: true}
	core, logs := observer.New(zapcore.WarnLevel)
	locker := NewGroupLocker(client, "nodes", 30*time.Millisecond, zap.New(core))

	release, err := locker.Acquire(context.Background(), ports.LockRequest{Groups: []string{"root"}})
	require.NoError(t, err)
	defer release()

	assert.Eventually(t, func() bool {
		for _, entry := range logs.FilterMessage("Failed to extend group lock").All() {
			if entry.ContextMap()["error"] == errLockLost.Error() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
