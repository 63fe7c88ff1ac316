package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps accounts in a DynamoDB table keyed by user_id.
type DynamoStore struct {
	client    dynamoClient
	tableName string
	now       func() time.Time
}

func NewDynamoStore(client dynamoClient, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoStore) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func (s *DynamoStore) GetBalance(ctx context.Context, userID string) (int, bool, error) {
	acct, found, err := s.get(ctx, userID)
	return acct.TokenCount, found, err
}

func (s *DynamoStore) get(ctx context.Context, userID string) (Account, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to get token account: %w", err)
	}
	if out.Item == nil {
		return Account{}, false, nil
	}

	var acct Account
	if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
		return Account{}, false, fmt.Errorf("failed to unmarshal token account: %w", err)
	}
	return acct, true, nil
}

// CreateAccount writes the account only if none exists; an existing account is returned unchanged.
func (s *DynamoStore) CreateAccount(ctx context.Context, userID string, initialBalance int) (Account, error) {
	now := s.now().UTC()
	acct := Account{UserID: userID, TokenCount: initialBalance, CreatedAt: now, UpdatedAt: now}

	item, err := attributevalue.MarshalMap(acct)
	if err != nil {
		return Account{}, fmt.Errorf("failed to marshal token account: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(user_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			existing, found, gerr := s.get(ctx, userID)
			if gerr != nil {
				return Account{}, gerr
			}
			if found {
				return existing, nil
			}
		}
		return Account{}, fmt.Errorf("failed to create token account: %w", err)
	}
	return acct, nil
}

// SetBalance is a conditional update on token_count = expected.
func (s *DynamoStore) SetBalance(ctx context.Context, userID string, expected, next int) (bool, error) {
	if next < 0 {
		return false, nil
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(userID),
		UpdateExpression:    aws.String("SET token_count = :next, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(user_id) AND token_count = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberN{Value: strconv.Itoa(next)},
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(expected)},
			":now":      &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update token balance: %w", err)
	}
	return true, nil
}
