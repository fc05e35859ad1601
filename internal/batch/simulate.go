package batch

import (
	"context"
	"fmt"

	"swaprouter/internal/model"
)

// Executor applies calls against state that can be rolled back.
type Executor interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Apply(ctx context.Context, call model.Call) ([]byte, error)
}

// CallError reports the call that aborted a batch.
type CallError struct {
	Index int
	Label string
	Err   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("batch call %d (%s): %v", e.Index, e.Label, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Simulate applies the payload's calls in order. If any call fails the
// executor is rolled back to its state before the batch.
func Simulate(ctx context.Context, payload Payload, exec Executor) ([][]byte, error) {
	snapshot := exec.Snapshot()
	results := make([][]byte, 0, len(payload.Calls))
	for i, call := range payload.Calls {
		if err := ctx.Err(); err != nil {
			exec.RevertToSnapshot(snapshot)
			return nil, err
		}
		ret, err := exec.Apply(ctx, call)
		if err != nil {
			exec.RevertToSnapshot(snapshot)
			return nil, &CallError{Index: i, Label: call.Label, Err: err}
		}
		results = append(results, ret)
	}
	return results, nil
}
