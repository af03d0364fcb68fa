package sns

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// LockoutAlerter notifies clinic staff that a PIN source was locked out.
type LockoutAlerter interface {
	AlertLockout(ctx context.Context, ref string, failures int, lockedUntil time.Time) error
}

type publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type alerter struct {
	client   publisher
	topicARN string
}

// NewAlerter publishes to topicARN. An empty ARN yields a no-op alerter.
func NewAlerter(awsCfg aws.Config, topicARN string) LockoutAlerter {
	if topicARN == "" {
		return noopAlerter{}
	}
	return &alerter{client: sns.NewFromConfig(awsCfg), topicARN: topicARN}
}

func (a *alerter) AlertLockout(ctx context.Context, ref string, failures int, lockedUntil time.Time) error {
	msg := fmt.Sprintf("PIN entry locked for %s after %d failed attempts, until %s",
		ref, failures, lockedUntil.UTC().Format(time.RFC3339))
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String("Clinic PIN lockout"),
		Message:  aws.String(msg),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String("pin_lockout")},
		},
	})
	return err
}

type noopAlerter struct{}

func (noopAlerter) AlertLockout(context.Context, string, int, time.Time) error { return nil }
