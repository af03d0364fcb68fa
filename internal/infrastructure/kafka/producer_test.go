package kafkainfra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducer_DisabledWithoutBrokers(t *testing.T) {
	assert.Nil(t, NewProducer(nil, "audit"))
	assert.Nil(t, NewProducer([]string{"k:9092"}, ""))
}

func TestNilProducer_IsNoop(t *testing.T) {
	var p *Producer
	assert.NoError(t, p.Publish(context.Background(), "k", []byte("v")))
	assert.NoError(t, p.Close())
}

func TestNewProducer_ConfiguresWriter(t *testing.T) {
	p := NewProducer([]string{"k1:9092", "k2:9092"}, "clinic-auth-audit")
	if assert.NotNil(t, p) {
		assert.Equal(t, "clinic-auth-audit", p.writer.Topic)
		assert.NoError(t, p.Close())
	}
}
