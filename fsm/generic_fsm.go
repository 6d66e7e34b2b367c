package fsm

import "sync"

// GenericFSM is a state machine that carries a value shared between its
// actions and outside readers.
type GenericFSM[T any] struct {
	*StateMachine

	Val     *T
	ValLock sync.RWMutex
}

// NewGenericFSM wraps a state machine and its value.
func NewGenericFSM[T any](fsm *StateMachine, val *T) *GenericFSM[T] {
	return &GenericFSM[T]{
		StateMachine: fsm,
		Val:          val,
	}
}

// RunFunc runs fn with the value write locked.
func (fsm *GenericFSM[T]) RunFunc(fn func(val *T) error) error {
	fsm.ValLock.Lock()
	defer fsm.ValLock.Unlock()

	return fn(fsm.Val)
}

// ReadFunc runs fn with the value read locked.
func (fsm *GenericFSM[T]) ReadFunc(fn func(val *T)) {
	fsm.ValLock.RLock()
	defer fsm.ValLock.RUnlock()

	fn(fsm.Val)
}
