// Package kmsinfra seals small secrets (TOTP seeds) before they are persisted.
package kmsinfra

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

const (
	kmsPrefix   = "kms:"
	plainPrefix = "plain:"
)

var ErrUnsealFailed = errors.New("unseal failed")

// Sealer encrypts and decrypts secrets at rest.
type Sealer interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, sealed string) (string, error)
}

type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type kmsSealer struct {
	client kmsAPI
	keyID  string
}

// NewSealer returns a KMS-backed sealer, or a passthrough one when keyID is empty.
func NewSealer(awsCfg aws.Config, keyID string) Sealer {
	if keyID == "" {
		return PlainSealer{}
	}
	return &kmsSealer{client: kms.NewFromConfig(awsCfg), keyID: keyID}
}

func (s *kmsSealer) Seal(ctx context.Context, plaintext string) (string, error) {
	out, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	return kmsPrefix + base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (s *kmsSealer) Open(ctx context.Context, sealed string) (string, error) {
	if strings.HasPrefix(sealed, plainPrefix) {
		return PlainSealer{}.Open(ctx, sealed)
	}
	raw, ok := strings.CutPrefix(sealed, kmsPrefix)
	if !ok {
		return "", ErrUnsealFailed
	}
	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(s.keyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return "", fmt.Errorf("kms decrypt: %w", err)
	}
	return string(out.Plaintext), nil
}

// PlainSealer stores secrets unencrypted. Development only.
type PlainSealer struct{}

func (PlainSealer) Seal(_ context.Context, plaintext string) (string, error) {
	return plainPrefix + plaintext, nil
}

func (PlainSealer) Open(_ context.Context, sealed string) (string, error) {
	v, ok := strings.CutPrefix(sealed, plainPrefix)
	if !ok {
		return "", ErrUnsealFailed
	}
	return v, nil
}
