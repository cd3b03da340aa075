package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimesWaitTimeout(t *testing.T) {
	model := Times(5).Wait(2 * time.Second).Timeout(3 * time.Second)

	assert.Equal(t, uint(5), model.retry)
	assert.Equal(t, 2*time.Second, model.waitTime)
	assert.Equal(t, 3*time.Second, model.timeout)
}

func TestTry(t *testing.T) {
	tests := []struct {
		name      string
		succeedAt uint
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds immediately", succeedAt: 0, wantCalls: 1},
		{name: "fails then succeeds", succeedAt: 1, wantCalls: 2},
		{name: "always fails", succeedAt: 10, wantCalls: 3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Times(3).Wait(0).Try(func(attempt uint) error {
				calls++
				if attempt < tt.succeedAt {
					return errors.New("fail")
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.EqualError(t, err, "fail")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTryNilAction(t *testing.T) {
	assert.Error(t, Times(1).Try(nil))
}

func TestTryStopsOnTimeout(t *testing.T) {
	start := time.Now()
	err := Times(1000).Wait(10 * time.Millisecond).Timeout(50 * time.Millisecond).Try(func(uint) error {
		return errors.New("not ready")
	})
	assert.EqualError(t, err, "not ready")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTryWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Times(5).Wait(time.Second).TryWithContext(ctx, func(uint) error {
		calls++
		return errors.New("not ready")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
