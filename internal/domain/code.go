package domain

import "time"

// OneTimeCode is the single active email code for a session.
// PK: session_key. A resend replaces the whole item, so the newest code always wins.
// PurgeAt is the DynamoDB TTL attribute; expiry itself is enforced on read.
type OneTimeCode struct {
	SessionKey string     `dynamodbav:"session_key"`
	CodeID     string     `dynamodbav:"code_id"`
	CodeHash   string     `dynamodbav:"code_hash"`
	Attempts   int        `dynamodbav:"attempts"`
	Consumed   bool       `dynamodbav:"consumed"`
	ConsumedAt *time.Time `dynamodbav:"consumed_at"`
	CreatedAt  time.Time  `dynamodbav:"created_at"`
	ExpiresAt  int64      `dynamodbav:"expires_at"` // Unix seconds
	PurgeAt    int64      `dynamodbav:"purge_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.Unix() > c.ExpiresAt
}
