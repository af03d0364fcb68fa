package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-intake-api/internal/domain"
)

// CodeRepo stores one-time codes, one item per session key.
// Every mutation after Put is bound to the code_id it was read with, so a resend
// that lands in between turns the stale mutation into ErrConflict.
type CodeRepo struct {
	client    ItemAPI
	tableName string
}

func NewCodeRepo(client ItemAPI, tableName string) *CodeRepo {
	return &CodeRepo{client: client, tableName: tableName}
}

// Put replaces whatever code the session had.
func (r *CodeRepo) Put(ctx context.Context, c *domain.OneTimeCode) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *CodeRepo) Get(ctx context.Context, sessionKey string) (*domain.OneTimeCode, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("session_key", sessionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("code not found: %w", domain.ErrNotFound)
	}
	var c domain.OneTimeCode
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementAttempts records a mismatch against codeID and returns the new attempt count.
func (r *CodeRepo) IncrementAttempts(ctx context.Context, sessionKey, codeID string) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("session_key", sessionKey),
		UpdateExpression:    aws.String("ADD #at :one"),
		ConditionExpression: aws.String("#cid = :cid AND #cs = :f"),
		ExpressionAttributeNames: map[string]string{
			"#at":  fieldAttempts,
			"#cid": fieldCodeID,
			"#cs":  fieldConsumed,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":cid": &types.AttributeValueMemberS{Value: codeID},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, conditionFailed(err, "code superseded")
	}
	n, ok := out.Attributes[fieldAttempts].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attempts missing from update result")
	}
	return strconv.Atoi(n.Value)
}

// Consume marks codeID used. It succeeds at most once per code.
func (r *CodeRepo) Consume(ctx context.Context, sessionKey, codeID string, now time.Time) error {
	consumedAt, err := attributevalue.Marshal(now.UTC())
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("session_key", sessionKey),
		UpdateExpression:    aws.String("SET #cs = :t, #ca = :ca"),
		ConditionExpression: aws.String("#cid = :cid AND #cs = :f"),
		ExpressionAttributeNames: map[string]string{
			"#cs":  fieldConsumed,
			"#ca":  fieldConsumedAt,
			"#cid": fieldCodeID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberBOOL{Value: true},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":ca":  consumedAt,
			":cid": &types.AttributeValueMemberS{Value: codeID},
		},
	})
	if err != nil {
		return conditionFailed(err, "code not consumable")
	}
	return nil
}

// Delete removes codeID if it is still the session's current code.
func (r *CodeRepo) Delete(ctx context.Context, sessionKey, codeID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("session_key", sessionKey),
		ConditionExpression:      aws.String("#cid = :cid"),
		ExpressionAttributeNames: map[string]string{"#cid": fieldCodeID},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: codeID},
		},
	})
	if err != nil {
		return conditionFailed(err, "code superseded")
	}
	return nil
}
