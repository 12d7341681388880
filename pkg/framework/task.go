package framework

import (
	"context"

	"github.com/golang/glog"
)

// Task is a single Runnable running in its own goroutine which
// can be stopped individually. Owners which tear down resources in
// a fixed order use Tasks instead of a Runner.
type Task struct {
	name   string
	cancel func()
	doneCh chan struct{}
	err    error
}

// StartTask starts runnable in a new goroutine.
func StartTask(ctx context.Context, name string, runnable Runnable) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{name: name, cancel: cancel, doneCh: make(chan struct{})}
	glog.V(4).Infof("start Task[%s]", name)
	go func() {
		defer close(t.doneCh)
		t.err = runnable.Run(ctx)
		glog.V(4).Infof("Task[%s] stopped: %v", name, t.err)
	}()
	return t
}

// Name implements Named.
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the Runnable returns.
func (t *Task) Done() <-chan struct{} {
	return t.doneCh
}

// Stop cancels the task and waits for it to return.
// Cancellation itself is not reported as an error.
func (t *Task) Stop() error {
	t.cancel()
	<-t.doneCh
	if t.err == context.Canceled {
		return nil
	}
	return t.err
}
