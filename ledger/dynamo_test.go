package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo evaluates the two condition expressions the store uses.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error

	puts, updates int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["user_id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.err != nil {
		return nil, f.err
	}
	id := keyOf(in.Item)
	if _, exists := f.items[id]; exists && aws.ToString(in.ConditionExpression) != "" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[keyOf(in.Key)]
	expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
	if !ok || item["token_count"].(*types.AttributeValueMemberN).Value != expected {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	item["token_count"] = in.ExpressionAttributeValues[":next"]
	item["updated_at"] = in.ExpressionAttributeValues[":now"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func TestDynamoStore(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newStore := func() (*DynamoStore, *fakeDynamo) {
		fake := newFakeDynamo()
		s := NewDynamoStore(fake, "medscan-token-accounts")
		s.now = func() time.Time { return fixed }
		return s, fake
	}

	t.Run("missing account", func(t *testing.T) {
		s, _ := newStore()
		_, found, err := s.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("create then read", func(t *testing.T) {
		s, _ := newStore()
		acct, err := s.CreateAccount(ctx, "u1", 30)
		require.NoError(t, err)
		assert.Equal(t, 30, acct.TokenCount)
		assert.Equal(t, fixed, acct.CreatedAt)

		balance, found, err := s.GetBalance(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 30, balance)
	})

	t.Run("create is idempotent", func(t *testing.T) {
		s, fake := newStore()
		_, err := s.CreateAccount(ctx, "u1", 30)
		require.NoError(t, err)
		ok, err := s.SetBalance(ctx, "u1", 30, 12)
		require.NoError(t, err)
		require.True(t, ok)

		acct, err := s.CreateAccount(ctx, "u1", 30)
		require.NoError(t, err)
		assert.Equal(t, 12, acct.TokenCount)
		assert.Equal(t, 2, fake.puts)
	})

	t.Run("stale expected balance is not written", func(t *testing.T) {
		s, _ := newStore()
		_, err := s.CreateAccount(ctx, "u1", 5)
		require.NoError(t, err)

		ok, err := s.SetBalance(ctx, "u1", 4, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		balance, _, _ := s.GetBalance(ctx, "u1")
		assert.Equal(t, 5, balance)
	})

	t.Run("negative balance is refused without a write", func(t *testing.T) {
		s, fake := newStore()
		ok, err := s.SetBalance(ctx, "u1", 0, -1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, fake.updates)
	})

	t.Run("client errors are returned", func(t *testing.T) {
		s, fake := newStore()
		fake.err = errors.New("throttled")

		_, _, err := s.GetBalance(ctx, "u1")
		assert.ErrorContains(t, err, "throttled")
		_, err = s.CreateAccount(ctx, "u1", 30)
		assert.ErrorContains(t, err, "throttled")
		_, err = s.SetBalance(ctx, "u1", 1, 0)
		assert.ErrorContains(t, err, "throttled")
	})
}

func TestLedger_OverDynamo(t *testing.T) {
	ctx := context.Background()
	l := New(NewDynamoStore(newFakeDynamo(), "accounts"), Options{})

	avail := l.CheckAvailability(ctx, "u1", 1)
	require.True(t, avail.Available)
	assert.Equal(t, DefaultWelcomeTokens, avail.Balance)

	h, _ := l.Reserve(ctx, "u1")
	require.NotNil(t, h)
	remaining, err := h.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultWelcomeTokens-1, remaining)
}
