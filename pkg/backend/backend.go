// Package backend defines the remote execution contract used by the master
// and provides an in-process implementation.
//
// Submit never waits for a task to finish. It returns a Future that the
// caller later resolves with Await. Only problems detected before dispatch
// are returned synchronously, as SubmissionError; everything that happens
// after dispatch is reported through the Future.
package backend

import (
	"context"
	"time"

	"github.com/viniolvs/mwfaas/pkg/function"
	"github.com/viniolvs/mwfaas/pkg/types"
)

// TaskSpec is one unit of work: a function applied to one chunk.
type TaskSpec struct {
	Function function.Function
	Chunk    types.Chunk
	Metadata types.Metadata
}

// Backend is a remote execution provider.
type Backend interface {
	// Name identifies the provider in logs.
	Name() string

	// Authenticate checks credentials with the provider.
	Authenticate(ctx context.Context) error

	// ListEndpoints returns the endpoints currently able to accept work.
	ListEndpoints(ctx context.Context) ([]types.Endpoint, error)

	// Submit schedules spec on ep without waiting for it to run.
	Submit(ctx context.Context, spec TaskSpec, ep types.Endpoint) (*Future, error)

	// Await blocks until f resolves, the timeout elapses or ctx is done.
	// A zero timeout waits without limit. Giving up never cancels the
	// remote invocation.
	Await(ctx context.Context, f *Future, timeout time.Duration) (any, error)

	// Close releases local resources.
	Close() error
}
