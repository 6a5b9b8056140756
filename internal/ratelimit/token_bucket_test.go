package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflowhq/docflow/internal/config"
)

func TestNewTokenBucket_NilClient(t *testing.T) {
	assert.Nil(t, NewTokenBucket(nil))
}

func TestTokenBucket_AllowValidatesArguments(t *testing.T) {
	var bucket *TokenBucket

	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err, "unconfigured limiter must refuse instead of silently allowing")
}

func TestBucketTTL_KeepsIdleBucketsForTwoRefills(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(1, 10))
	assert.Equal(t, 4*time.Second, bucketTTL(5, 10))
	// Never below a second, or the key expires between script calls.
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
}

func TestEmailLimiter_DisabledAllowsAll(t *testing.T) {
	limiter := NewEmailLimiter(config.Config{}, nil)
	require.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "smtp")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCastHelpers(t *testing.T) {
	assert.EqualValues(t, 1, castToInt(int64(1)))
	assert.EqualValues(t, 0, castToInt("nope"))
	assert.EqualValues(t, 2.5, castToFloat("2.5"))
	assert.EqualValues(t, 3, castToFloat(int64(3)))
	assert.EqualValues(t, 0, castToFloat("nope"))
}
