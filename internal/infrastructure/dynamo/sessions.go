package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-intake-api/internal/domain"
)

// SessionRepo provides typed DynamoDB operations for the sessions table.
type SessionRepo struct {
	client    ItemAPI
	tableName string
}

func NewSessionRepo(client ItemAPI, tableName string) *SessionRepo {
	return &SessionRepo{client: client, tableName: tableName}
}

func (r *SessionRepo) Put(ctx context.Context, s *domain.Session) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(session_key)"),
	})
	if err != nil {
		return conditionFailed(err, "session key collision")
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionKey string) (*domain.Session, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("session_key", sessionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	var s domain.Session
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Promote moves a pin_verified session to fully_authenticated with a new expiry.
// Fails with ErrConflict if the session is not (or no longer) pin_verified.
func (r *SessionRepo) Promote(ctx context.Context, sessionKey string, expiresAt, purgeAt int64, now time.Time) (*domain.Session, error) {
	promotedAt, err := attributevalue.Marshal(now.UTC())
	if err != nil {
		return nil, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              strKey("session_key", sessionKey),
		UpdateExpression: aws.String("SET #st = :full, #exp = :exp, #purge = :purge, #pa = :pa"),
		ConditionExpression: aws.String(
			"attribute_exists(session_key) AND #st = :pin AND #rv = :f"),
		ExpressionAttributeNames: map[string]string{
			"#st":    fieldStage,
			"#exp":   fieldExpiresAt,
			"#purge": fieldPurgeAt,
			"#pa":    fieldPromotedAt,
			"#rv":    fieldRevoked,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":full":  &types.AttributeValueMemberS{Value: domain.StageFullyAuthenticated},
			":pin":   &types.AttributeValueMemberS{Value: domain.StagePINVerified},
			":exp":   &types.AttributeValueMemberN{Value: fmt.Sprint(expiresAt)},
			":purge": &types.AttributeValueMemberN{Value: fmt.Sprint(purgeAt)},
			":pa":    promotedAt,
			":f":     &types.AttributeValueMemberBOOL{Value: false},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, conditionFailed(err, "session not promotable")
	}
	var s domain.Session
	if err := attributevalue.UnmarshalMap(out.Attributes, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Revoke marks the session unusable ahead of its natural expiry.
func (r *SessionRepo) Revoke(ctx context.Context, sessionKey string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("session_key", sessionKey),
		UpdateExpression:         aws.String("SET #rv = :t"),
		ConditionExpression:      aws.String("attribute_exists(session_key)"),
		ExpressionAttributeNames: map[string]string{"#rv": fieldRevoked},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return conditionFailed(err, "session missing")
	}
	return nil
}

// AddFactorFailure counts a rejected second-factor code against a pin_verified session
// and returns the new total.
func (r *SessionRepo) AddFactorFailure(ctx context.Context, sessionKey string) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("session_key", sessionKey),
		UpdateExpression:    aws.String("ADD #ff :one"),
		ConditionExpression: aws.String("attribute_exists(session_key) AND #st = :pin AND #rv = :f"),
		ExpressionAttributeNames: map[string]string{
			"#ff": fieldFactorFailures,
			"#st": fieldStage,
			"#rv": fieldRevoked,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":pin": &types.AttributeValueMemberS{Value: domain.StagePINVerified},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, conditionFailed(err, "session not pending")
	}
	var s domain.Session
	if err := attributevalue.UnmarshalMap(out.Attributes, &s); err != nil {
		return 0, err
	}
	return s.FactorFailures, nil
}
