package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
)

// ErrForcedExit is returned by Wait when a second stop signal arrives.
var ErrForcedExit = errors.New("forced exit")

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun wraps a Runnable with a name.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// Runner runs multiple Runnables and collect errors.
// The first Runnable to stop cancels the others.
type Runner struct {
	Context context.Context

	cancel  context.CancelFunc
	count   int
	errCh   chan error
	exitCh  chan struct{}
	signals chan os.Signal
}

// NewRunner creates a runner with a default background context.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner with a specified context.
func NewRunnerWith(ctx context.Context) *Runner {
	r := &Runner{
		errCh:  make(chan error, 1),
		exitCh: make(chan struct{}),
	}
	r.Context, r.cancel = context.WithCancel(ctx)
	return r
}

// HandleSignals cancels the context on Ctrl-C or SIGTERM. A second
// signal forces Wait to return.
func (r *Runner) HandleSignals() *Runner {
	r.signals = make(chan os.Signal, 1)
	signal.Notify(r.signals, os.Interrupt, syscall.SIGTERM)
	go func(sigCh <-chan os.Signal) {
		<-sigCh
		glog.Info("stop requested")
		r.cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(r.exitCh)
	}(r.signals)
	return r
}

// Go spawns Runnables with the runner context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := fmt.Sprintf("%d", r.count)
		if named, ok := runner.(Named); ok {
			name = named.Name()
		}
		r.count++
		glog.V(4).Infof("start Runner[%s]", name)
		go func(runner Runnable, name string) {
			err := runner.Run(r.Context)
			glog.V(4).Infof("Runner[%s] stopped: %v", name, err)
			r.cancel()
			r.errCh <- err
		}(runner, name)
	}
	return r
}

// Wait waits until all Runnables stop and aggregates errors.
func (r *Runner) Wait() error {
	defer r.stopSignals()
	var errs AggregatedError
	for n := 0; n < r.count; n++ {
		select {
		case <-r.exitCh:
			return ErrForcedExit
		case err := <-r.errCh:
			if !errors.Is(err, context.Canceled) {
				errs.Add(err)
			}
		}
	}
	return errs.Aggregate()
}

func (r *Runner) stopSignals() {
	if r.signals != nil {
		signal.Stop(r.signals)
	}
}

// RunWithContextCancel runs a func which doesn't accept a context.
// onCancel is called only when the context is canceled and must make fn return.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case <-ctx.Done():
		if onCancel != nil {
			onCancel()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// RunWithContextCloser runs fn and ensures closer is closed either on
// cancel or after fn returns.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var closed bool
	err := RunWithContextCancel(ctx, func() {
		closer.Close()
		closed = true
	}, fn)
	if !closed {
		closer.Close()
	}
	return err
}
