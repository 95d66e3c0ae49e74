package base

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/pbwire/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeResolvesOnce(t *testing.T) {
	ex := NewExchange()
	assert.False(t, ex.IsDone())

	_, _, ok := ex.Result()
	assert.False(t, ok)

	assert.True(t, ex.Succeed(common.NewFrame(common.MsgCPingResp, nil)))
	assert.False(t, ex.Fail(errors.New("late")))
	assert.False(t, ex.Succeed(common.NewFrame(common.MsgCAuthResp, nil)))

	resp, err, ok := ex.Result()
	require.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, common.MsgCPingResp, resp.Code)
}

func TestExchangeConcurrentResolution(t *testing.T) {
	for round := 0; round < 100; round++ {
		ex := NewExchange()
		var winners atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var won bool
				if i%2 == 0 {
					won = ex.Succeed(common.Frame{})
				} else {
					won = ex.Fail(common.NewConnectionClosed("closed"))
				}
				if won {
					winners.Add(1)
				}
			}(i)
		}

		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
		assert.True(t, ex.IsDone())
	}
}

func TestExchangeWait(t *testing.T) {
	t.Run("Resolved", func(t *testing.T) {
		ex := NewExchange()
		go func() {
			time.Sleep(10 * time.Millisecond)
			ex.Fail(common.NewTimeout("no response"))
		}()

		_, err := ex.Wait(context.Background())
		assert.True(t, errors.Is(err, common.ErrTimeout))
	})

	t.Run("ContextDone", func(t *testing.T) {
		ex := NewExchange()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := ex.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, ex.IsDone(), "giving up must not resolve the exchange")
		assert.True(t, ex.Succeed(common.Frame{}))
	})
}
