package irc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dalnet/neubot/internal/event"
	"github.com/dalnet/neubot/internal/proto"
)

// SyncRequest is a line sent to the server together with the numerics
// that answer it.
type SyncRequest struct {
	Line    string
	Success []string
	Failure []string
	Timeout time.Duration
	// Match filters replies, e.g. by channel name. Nil accepts any.
	Match func(*proto.Message) bool
	// Log receives the timeout warning. Nil discards it.
	Log *zap.Logger
}

// SendAndWait sends req.Line on client and reports whether a success reply
// arrived before a failure reply, the timeout or ctx ending. The temporary
// handlers only accept replies from client and are always released.
func SendAndWait(ctx context.Context, bus *event.Bus, client event.Client, req SyncRequest) bool {
	owner := "sync/" + uuid.NewString()
	defer bus.ReleaseRelated(owner)

	result := make(chan bool, 1)
	signal := func(ok bool) event.Handler {
		return func(ec *event.Context) error {
			if ec.Client != client {
				return nil
			}
			if req.Match != nil && !req.Match(ec.Message) {
				return nil
			}
			select {
			case result <- ok:
			default:
			}
			return nil
		}
	}
	for _, code := range req.Success {
		bus.RegisterEvent(code, signal(true), owner)
	}
	for _, code := range req.Failure {
		bus.RegisterEvent(code, signal(false), owner)
	}

	client.SendRaw(req.Line, PriorityDefault)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-result:
		return ok
	case <-timer.C:
		if req.Log != nil {
			req.Log.Warn("request timed out",
				zap.String("line", req.Line),
				zap.Duration("timeout", timeout))
		}
		return false
	case <-ctx.Done():
		return false
	}
}
