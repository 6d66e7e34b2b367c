package fsm

import (
	"context"
	"sync"
	"time"
)

// CachedObserver is an observer that caches all states and transitions of
// the observed state machine.
type CachedObserver struct {
	lastNotification    Notification
	cachedNotifications *FixedSizeSlice[Notification]

	notificationCond *sync.Cond
	notificationMx   sync.Mutex
}

// NewCachedObserver creates a new cached observer with the given maximum
// number of cached notifications.
func NewCachedObserver(maxElements int) *CachedObserver {
	observer := &CachedObserver{
		cachedNotifications: NewFixedSizeSlice[Notification](
			maxElements,
		),
	}
	observer.notificationCond = sync.NewCond(&observer.notificationMx)

	return observer
}

// Notify implements the Observer interface.
func (c *CachedObserver) Notify(notification Notification) {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	c.cachedNotifications.Add(notification)
	c.lastNotification = notification
	c.notificationCond.Broadcast()
}

// GetCachedNotifications returns a copy of the cached notifications.
func (c *CachedObserver) GetCachedNotifications() []Notification {
	c.notificationMx.Lock()
	defer c.notificationMx.Unlock()

	return c.cachedNotifications.Get()
}

// WaitForStateOption is an option that can be passed to the WaitForState
// function.
type WaitForStateOption interface {
	apply(*fsmOptions)
}

// fsmOptions is a struct that holds all options that can be passed to the
// WaitForState function.
type fsmOptions struct {
	abortEarlyOnError bool
}

// abortEarlyOnErrorOption makes WaitForState return the action error of an
// OnError transition instead of waiting further.
type abortEarlyOnErrorOption struct{}

func (abortEarlyOnErrorOption) apply(o *fsmOptions) {
	o.abortEarlyOnError = true
}

// WithAbortEarlyOnErrorOption creates an option to abort early if an action
// fails.
func WithAbortEarlyOnErrorOption() WaitForStateOption {
	return abortEarlyOnErrorOption{}
}

// WaitForState waits for the state machine to reach the given state.
func (c *CachedObserver) WaitForState(ctx context.Context,
	timeout time.Duration, state StateType,
	opts ...WaitForStateOption) error {

	var options fsmOptions
	for _, opt := range opts {
		opt.apply(&options)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return <-c.WaitForStateAsync(
		timeoutCtx, state, options.abortEarlyOnError,
	)
}

// WaitForStateAsync waits asynchronously until the passed context is canceled
// or the expected state is reached. The returned channel receives nil once
// the state is reached, the action error if abortOnError is set and an
// action failed, or an ErrWaitingForStateTimeout error if the context is
// canceled first.
func (c *CachedObserver) WaitForStateAsync(ctx context.Context,
	state StateType, abortOnError bool) <-chan error {

	ch := make(chan error, 1)

	// Wake up the waiter below once the context is done.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.notificationMx.Lock()
			c.notificationCond.Broadcast()
			c.notificationMx.Unlock()

		case <-stop:
		}
	}()

	go func() {
		defer close(stop)

		c.notificationMx.Lock()
		defer c.notificationMx.Unlock()

		for {
			last := c.lastNotification
			switch {
			case last.NextState == state:
				ch <- nil
				return

			case abortOnError && last.Event == OnError:
				ch <- last.LastActionError
				return

			case ctx.Err() != nil:
				ch <- NewErrWaitingForStateTimeout(state)
				return
			}

			c.notificationCond.Wait()
		}
	}()

	return ch
}

// FixedSizeSlice is a slice with a fixed size.
type FixedSizeSlice[T any] struct {
	data   []T
	maxLen int

	sync.Mutex
}

// NewFixedSizeSlice initializes a new FixedSizeSlice with a given maximum
// length.
func NewFixedSizeSlice[T any](maxLen int) *FixedSizeSlice[T] {
	return &FixedSizeSlice[T]{
		data:   make([]T, 0, maxLen),
		maxLen: maxLen,
	}
}

// Add appends a new element to the slice. If the slice reaches its maximum
// length, the first element is removed.
func (fs *FixedSizeSlice[T]) Add(element T) {
	fs.Lock()
	defer fs.Unlock()

	if len(fs.data) == fs.maxLen {
		fs.data = fs.data[1:]
	}
	fs.data = append(fs.data, element)
}

// Get returns a copy of the slice.
func (fs *FixedSizeSlice[T]) Get() []T {
	fs.Lock()
	defer fs.Unlock()

	data := make([]T, len(fs.data))
	copy(data, fs.data)

	return data
}
