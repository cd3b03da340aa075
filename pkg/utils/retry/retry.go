package retry

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Action defines the prototype of action function, function as a value
type Action func(attempt uint) error

// Model defines the schema, contains all the attributes need for retry
type Model struct {
	retry    uint
	waitTime time.Duration
	timeout  time.Duration
}

// Times is used to define the retry count
// it will run if the instance of model is not present before
func Times(retry uint) *Model {
	model := Model{}
	return model.Times(retry)
}

// Times is used to define the retry count
// it will run if the instance of model is already present
func (model *Model) Times(retry uint) *Model {
	model.retry = retry
	return model
}

// Wait is used to define the wait duration after each failed iteration
// it will run if the instance of model is not present before
func Wait(waitTime time.Duration) *Model {
	model := Model{}
	return model.Wait(waitTime)
}

// Wait is used to define the wait duration after each failed iteration
// it will run if the instance of model is already present
func (model *Model) Wait(waitTime time.Duration) *Model {
	model.waitTime = waitTime
	return model
}

// Timeout is used to define the overall deadline of the iterations
// it will run if the instance of model is not present before
func Timeout(timeout time.Duration) *Model {
	model := Model{}
	return model.Timeout(timeout)
}

// Timeout is used to define the overall deadline of the iterations
// it will run if the instance of model is already present
func (model *Model) Timeout(timeout time.Duration) *Model {
	model.timeout = timeout
	return model
}

// Try is used to run a action with retries and some delay after each failed iteration
func (model Model) Try(action Action) error {
	return model.TryWithContext(context.Background(), action)
}

// TryWithContext polls the action until it succeeds, the attempts are
// exhausted, the timeout elapses or the context is done. It returns the
// last action error, or the context error.
func (model Model) TryWithContext(ctx context.Context, action Action) error {
	if action == nil {
		return errors.New("no action specified")
	}

	var deadline <-chan time.Time
	if model.timeout > 0 {
		timer := time.NewTimer(model.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var err error
	for attempt := uint(0); attempt == 0 || attempt < model.retry; attempt++ {
		if err = action(attempt); err == nil {
			return nil
		}
		if attempt+1 >= model.retry {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return err
		case <-time.After(model.waitTime):
		}
	}
	return err
}
