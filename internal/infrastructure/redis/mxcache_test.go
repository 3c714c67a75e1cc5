package redisinfra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMXCache_Options(t *testing.T) {
	c := NewMXCache(nil, WithPrefix(":verifier:mx:"), WithTTL(time.Minute))
	assert.Equal(t, "verifier:mx:gmail.com", c.key("GMAIL.com"))
	assert.Equal(t, time.Minute, c.ttl)
}

func TestMXCache_NilClientIsAMiss(t *testing.T) {
	c := NewMXCache(nil)
	c.Set(context.Background(), "gmail.com", []string{"mx.gmail.com"})
	_, ok := c.Get(context.Background(), "gmail.com")
	assert.False(t, ok)
}
