package saga

import (
	"github.com/layerswap/layerswap-atomic-bridge-sub001/fsm"
)

// States.
var (
	Init = fsm.StateType("Init")

	LockingDestination = fsm.StateType("LockingDestination")

	WaitingForSourceLock = fsm.StateType("WaitingForSourceLock")

	RedeemingSource = fsm.StateType("RedeemingSource")

	RedeemingDestination = fsm.StateType("RedeemingDestination")

	RefundingDestination = fsm.StateType("RefundingDestination")

	Completed = fsm.StateType("Completed")

	Refunded = fsm.StateType("Refunded")

	Failed = fsm.StateType("Failed")
)

// Events.
var (
	OnStart = fsm.EventType("OnStart")

	OnValidated = fsm.EventType("OnValidated")

	OnDestinationLocked = fsm.EventType("OnDestinationLocked")

	OnSourceLocked = fsm.EventType("OnSourceLocked")

	OnSourceRedeemed = fsm.EventType("OnSourceRedeemed")

	OnDestinationRedeemed = fsm.EventType("OnDestinationRedeemed")

	OnLockTimeout = fsm.EventType("OnLockTimeout")

	OnDestinationRefunded = fsm.EventType("OnDestinationRefunded")
)

// GetStates returns the states of the swap saga.
func (s *Saga) GetStates() fsm.States {
	return fsm.States{
		fsm.Default: fsm.State{
			Transitions: fsm.Transitions{
				OnStart: Init,
			},
			Action: fsm.NoOpAction,
		},
		Init: fsm.State{
			Transitions: fsm.Transitions{
				OnValidated: LockingDestination,
				fsm.OnError: Failed,
			},
			Action: s.validateAction,
		},
		LockingDestination: fsm.State{
			Transitions: fsm.Transitions{
				OnDestinationLocked: WaitingForSourceLock,
				fsm.OnError:         Failed,
			},
			Action: s.lockDestinationAction,
		},
		WaitingForSourceLock: fsm.State{
			Transitions: fsm.Transitions{
				OnSourceLocked: RedeemingSource,
				OnLockTimeout:  RefundingDestination,
				fsm.OnError:    RefundingDestination,
			},
			Action: s.waitForSourceLockAction,
		},
		RedeemingSource: fsm.State{
			Transitions: fsm.Transitions{
				OnSourceRedeemed: RedeemingDestination,
				fsm.OnError:      Failed,
			},
			Action: s.redeemSourceAction,
		},
		RedeemingDestination: fsm.State{
			Transitions: fsm.Transitions{
				OnDestinationRedeemed: Completed,
				fsm.OnError:           Failed,
			},
			Action: s.redeemDestinationAction,
		},
		RefundingDestination: fsm.State{
			Transitions: fsm.Transitions{
				OnDestinationRefunded: Refunded,
				fsm.OnError:           Failed,
			},
			Action: s.refundDestinationAction,
		},
		Completed: fsm.State{
			Action: fsm.NoOpAction,
		},
		Refunded: fsm.State{
			Action: fsm.NoOpAction,
		},
		Failed: fsm.State{
			Action: fsm.NoOpAction,
		},
	}
}
