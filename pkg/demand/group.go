package demand

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// WaitGroupConcurrencyLimit is the maximum number of concurrent demands in one WaitGroup.
	WaitGroupConcurrencyLimit = 8
	// RunGroupConcurrencyLimit is the maximum number of concurrent demands in one RunGroup.
	RunGroupConcurrencyLimit = 32
)

// Dispatch starts the exchange of the demand, for example (*Demand).Get.
type Dispatch func(d *Demand) error

// PostDispatch returns Dispatch sending a POST request with the body.
func PostDispatch(body Body) Dispatch {
	return func(d *Demand) error {
		return d.Post(body)
	}
}

// PutDispatch returns Dispatch sending a PUT request with the body.
func PutDispatch(body Body) Dispatch {
	return func(d *Demand) error {
		return d.Put(body)
	}
}

// WaitGroup allows dispatching demands concurrently using the Send method
// and wait until all exchanges are terminated using the Wait method.
//
// The demand is dispatched immediately after calling the Send method.
// If an error occurs, dispatching will not stop, all demands will be dispatched.
// Wait method at the end returns all errors that have occurred, if any.
//
// If you need to schedule demands and dispatch them later,
// or if you want to stop at the first error, use RunGroup instead.
type WaitGroup struct {
	ctx context.Context
	wg  *sync.WaitGroup     // wait for all
	sem *semaphore.Weighted // limit concurrency

	lock *sync.Mutex // for err
	err  *multierror.Error
}

// NewWaitGroup creates new WaitGroup.
func NewWaitGroup(ctx context.Context) *WaitGroup {
	return NewWaitGroupWithLimit(ctx, WaitGroupConcurrencyLimit)
}

// NewWaitGroupWithLimit creates new WaitGroup with given concurrent demands limit.
func NewWaitGroupWithLimit(ctx context.Context, limit int64) *WaitGroup {
	return &WaitGroup{ctx: ctx, wg: &sync.WaitGroup{}, sem: semaphore.NewWeighted(limit), lock: &sync.Mutex{}}
}

// Wait for all exchanges to terminate. All errors that have occurred will be returned.
func (g *WaitGroup) Wait() error {
	g.wg.Wait()
	// If there is only one error, then unwrap multierror
	if g.err != nil && len(g.err.Errors) == 1 {
		return g.err.Errors[0]
	}
	return g.err.ErrorOrNil()
}

// Send dispatches the demand concurrently.
func (g *WaitGroup) Send(d *Demand, dispatch Dispatch) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		// Limit number of concurrent demands
		if err := g.sem.Acquire(g.ctx, 1); err != nil {
			// Ctx is done, the demand is not sent
			g.addError(fmt.Errorf(`demand "%s" not sent: %w`, d.URL(), err))
			return
		}
		defer g.sem.Release(1)

		if err := dispatchAndWait(g.ctx, d, dispatch); err != nil {
			g.addError(err)
		}
	}()
}

func (g *WaitGroup) addError(err error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.err = multierror.Append(g.err, err)
}

// RunGroup allows scheduling demands by the Add method
// and then dispatch them concurrently by the RunAndWait method.
//
// The dispatching will stop when the first error occurs, in-flight demands are aborted.
// The first error will be returned from the RunAndWait method.
//
// If you need to dispatch demands immediately,
// or if you want to wait and collect all errors, use WaitGroup instead.
type RunGroup struct {
	ctx   context.Context
	start chan struct{} // postpone dispatching until RunAndWait will be called
	group *errgroup.Group
	sem   *semaphore.Weighted // limit concurrency
}

// NewRunGroup creates a new RunGroup.
func NewRunGroup(ctx context.Context) *RunGroup {
	return RunGroupWithLimit(ctx, RunGroupConcurrencyLimit)
}

// RunGroupWithLimit creates a new RunGroup with given concurrent demands limit.
func RunGroupWithLimit(ctx context.Context, limit int64) *RunGroup {
	group, ctx := errgroup.WithContext(ctx)
	return &RunGroup{
		ctx:   ctx,
		start: make(chan struct{}),
		group: group,
		sem:   semaphore.NewWeighted(limit),
	}
}

// Add demand for dispatching.
// The demand will be dispatched on call of the RunAndWait method.
// Additional demands can be added using the Add method (for example from a callback),
// even if RunAndWait has already been called, but is not yet finished.
func (g *RunGroup) Add(d *Demand, dispatch Dispatch) {
	g.group.Go(func() error {
		// Postpone dispatching until RunAndWait will be called
		<-g.start

		// Limit number of concurrent demands
		if err := g.sem.Acquire(g.ctx, 1); err != nil {
			// Ctx is done, return
			return err
		}
		defer g.sem.Release(1)

		return dispatchAndWait(g.ctx, d, dispatch)
	})
}

// RunAndWait starts dispatching demands and waits for the result.
// After the first error dispatching stops and the error is returned.
func (g *RunGroup) RunAndWait() error {
	close(g.start)
	return g.group.Wait()
}

// dispatchAndWait aborts the demand if the context is done before the exchange terminates.
func dispatchAndWait(ctx context.Context, d *Demand, dispatch Dispatch) error {
	if err := dispatch(d); err != nil {
		return err
	}
	if err := d.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			d.Abort()
		}
		return err
	}
	return nil
}
