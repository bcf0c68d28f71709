package files

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one batch item. Index is the item's position in the input.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

func (r Result[T]) OK() bool { return r.Err == nil }

func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Index  int    `json:"index"`
		Status string `json:"status"`
		Value  *T     `json:"value,omitempty"`
		Reason string `json:"reason,omitempty"`
	}{Index: r.Index}
	if r.Err != nil {
		out.Status = "failed"
		out.Reason = r.Err.Error()
	} else {
		out.Status = "ok"
		out.Value = &r.Value
	}
	return json.Marshal(out)
}

// Outcome holds exactly one Result per input item, in input order.
type Outcome[T any] []Result[T]

func (o Outcome[T]) Succeeded() []T {
	out := make([]T, 0, len(o))
	for _, r := range o {
		if r.OK() {
			out = append(out, r.Value)
		}
	}
	return out
}

func (o Outcome[T]) Failures() []Result[T] {
	var out []Result[T]
	for _, r := range o {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func (o Outcome[T]) SuccessCount() int { return len(o) - o.FailedCount() }

func (o Outcome[T]) FailedCount() int {
	n := 0
	for _, r := range o {
		if !r.OK() {
			n++
		}
	}
	return n
}

// settle runs fn for every index concurrently and waits for all of them. A failing item
// never cancels its siblings; each error is kept in its own slot.
func settle[T any](ctx context.Context, n int, fn func(ctx context.Context, i int) (T, error)) Outcome[T] {
	out := make(Outcome[T], n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, err := fn(ctx, i)
			out[i] = Result[T]{Index: i, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
