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

// IdentityRepo provides typed DynamoDB operations for the identities table.
type IdentityRepo struct {
	client    ItemAPI
	tableName string
}

func NewIdentityRepo(client ItemAPI, tableName string) *IdentityRepo {
	return &IdentityRepo{client: client, tableName: tableName}
}

func (r *IdentityRepo) Put(ctx context.Context, i *domain.Identity) error {
	item, err := attributevalue.MarshalMap(i)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// Create stores a new identity and fails with ErrConflict if the id is taken.
func (r *IdentityRepo) Create(ctx context.Context, i *domain.Identity) error {
	item, err := attributevalue.MarshalMap(i)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(identity_id)"),
	})
	if err != nil {
		return conditionFailed(err, "identity exists")
	}
	return nil
}

func (r *IdentityRepo) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("identity_id", identityID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	var i domain.Identity
	if err := attributevalue.UnmarshalMap(out.Item, &i); err != nil {
		return nil, err
	}
	return &i, nil
}

// ListEnabled scans every enabled identity. The identity set of a clinic is small,
// and PIN verification has to consider all of them.
func (r *IdentityRepo) ListEnabled(ctx context.Context) ([]domain.Identity, error) {
	input := &dynamodb.ScanInput{
		TableName:                aws.String(r.tableName),
		FilterExpression:         aws.String("#e = :t"),
		ExpressionAttributeNames: map[string]string{"#e": fieldEnable},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
		ConsistentRead: aws.Bool(true),
	}
	var identities []domain.Identity
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		var page []domain.Identity
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		identities = append(identities, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return identities, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (r *IdentityRepo) Update(ctx context.Context, identityID string, updates map[string]interface{}) error {
	updates[fieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("identity_id", identityID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(identity_id)"),
	})
	if err != nil {
		return conditionFailed(err, "identity missing")
	}
	return nil
}

// MarkEmailVerified completes enrollment: the address is proven and email codes become
// the identity's second factor.
func (r *IdentityRepo) MarkEmailVerified(ctx context.Context, identityID string) error {
	return r.Update(ctx, identityID, map[string]interface{}{
		fieldEmailVerified: true,
		fieldTwoFAEnabled:  true,
	})
}

// StartTOTP stores a sealed authenticator secret and fresh backup code hashes. The
// authenticator stays disabled until EnableTOTP.
func (r *IdentityRepo) StartTOTP(ctx context.Context, identityID, sealedSecret string, backupHashes []string) error {
	if len(backupHashes) == 0 {
		return fmt.Errorf("start totp: no backup codes")
	}
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("identity_id", identityID),
		UpdateExpression:    aws.String("SET #sec = :sec, #en = :f, #bc = :bc, #ua = :ua REMOVE #ls"),
		ConditionExpression: aws.String("attribute_exists(identity_id)"),
		ExpressionAttributeNames: map[string]string{
			"#sec": fieldTOTPSecret,
			"#en":  fieldTOTPEnabled,
			"#bc":  fieldBackupCodeHashes,
			"#ua":  fieldUpdatedAt,
			"#ls":  fieldTOTPLastStep,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sec": &types.AttributeValueMemberS{Value: sealedSecret},
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":bc":  &types.AttributeValueMemberSS{Value: backupHashes},
			":ua":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return conditionFailed(err, "identity missing")
	}
	return nil
}

// EnableTOTP turns the stored authenticator secret on.
func (r *IdentityRepo) EnableTOTP(ctx context.Context, identityID string) error {
	return r.Update(ctx, identityID, map[string]interface{}{fieldTOTPEnabled: true})
}

// ClaimTOTPStep records step as the last accepted authenticator time step. It fails with
// ErrConflict when step is not newer than the stored one, so a code works once.
func (r *IdentityRepo) ClaimTOTPStep(ctx context.Context, identityID string, step int64) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("identity_id", identityID),
		UpdateExpression:    aws.String("SET #ls = :step"),
		ConditionExpression: aws.String("attribute_exists(identity_id) AND #en = :t AND (attribute_not_exists(#ls) OR #ls < :step)"),
		ExpressionAttributeNames: map[string]string{
			"#ls": fieldTOTPLastStep,
			"#en": fieldTOTPEnabled,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":step": &types.AttributeValueMemberN{Value: fmt.Sprint(step)},
			":t":    &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return conditionFailed(err, "totp step already used")
	}
	return nil
}

// ConsumeBackupCode removes hash from the identity's backup codes. It fails with
// ErrConflict when the hash is not (or no longer) present.
func (r *IdentityRepo) ConsumeBackupCode(ctx context.Context, identityID, hash string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("identity_id", identityID),
		UpdateExpression:    aws.String("DELETE #bc :set SET #ua = :ua"),
		ConditionExpression: aws.String("contains(#bc, :h)"),
		ExpressionAttributeNames: map[string]string{
			"#bc": fieldBackupCodeHashes,
			"#ua": fieldUpdatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":set": &types.AttributeValueMemberSS{Value: []string{hash}},
			":h":   &types.AttributeValueMemberS{Value: hash},
			":ua":  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return conditionFailed(err, "backup code already used")
	}
	return nil
}
