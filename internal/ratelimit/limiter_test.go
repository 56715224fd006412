package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	l := New(Rates{REST: 100, Download: 100, Upload: 100})

	require.NoError(t, l.Wait(context.Background(), REST))
	require.NoError(t, l.Wait(context.Background(), Download))
}

func TestLimiter_UnknownFamily(t *testing.T) {
	l := New(DefaultRates())

	assert.NoError(t, l.Wait(context.Background(), "graphql"))
}

func TestLimiter_ZeroRateIsUnlimited(t *testing.T) {
	l := New(Rates{REST: 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.Wait(ctx, REST))
}

func TestLimiter_NilNeverBlocks(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background(), REST))
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := New(Rates{REST: 0.001})

	// Consume the burst.
	_ = l.Wait(context.Background(), REST)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, REST)
	assert.Error(t, err)
}
