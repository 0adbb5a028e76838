package db

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRemoteWithoutURLIsUnavailable(t *testing.T) {
	r := NewRemote(Config{}, time.Second, nil)

	assert.ErrorIs(t, r.Ping(context.Background()), ErrUnavailable)
	_, err := r.GetRound(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, r.Close(context.Background()))
}

func TestRemoteRedialIsRateLimited(t *testing.T) {
	r := NewRemote(Config{URL: "ws://127.0.0.1:1/rpc"}, 2*time.Second, nil)
	r.RedialInterval = time.Hour

	err := r.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	start := time.Now()
	_, err = r.FindInProgressRound(context.Background(), models.Operator{ID: "op"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "no second dial inside the interval")
}
