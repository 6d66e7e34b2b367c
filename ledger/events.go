package ledger

import (
	"sync/atomic"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/lightningnetwork/lnd/subscribe"
)

// EventType identifies a ledger state transition.
type EventType uint8

const (
	// EventCommitted is sent when a commitment is created.
	EventCommitted EventType = iota

	// EventLocked is sent when an htlc is created directly.
	EventLocked

	// EventLockAdded is sent when a commitment is converted into an
	// htlc.
	EventLockAdded

	// EventRedeemed is sent when an htlc is redeemed.
	EventRedeemed

	// EventRefunded is sent when an htlc is refunded.
	EventRefunded

	// EventCommitRefunded is sent when a commitment is refunded.
	EventCommitRefunded
)

// String returns the event name.
func (e EventType) String() string {
	switch e {
	case EventCommitted:
		return "Committed"

	case EventLocked:
		return "Locked"

	case EventLockAdded:
		return "LockAdded"

	case EventRedeemed:
		return "Redeemed"

	case EventRefunded:
		return "Refunded"

	case EventCommitRefunded:
		return "CommitRefunded"

	default:
		return "Unknown"
	}
}

// Event is a snapshot of the records touched by a transition.
type Event struct {
	Type EventType

	// Caller is the party that triggered the transition. For signed
	// locks it is the signer.
	Caller htlcdb.Address

	// HTLC is set for all events except the commitment ones.
	HTLC *htlcdb.HTLC

	// PHTLC is set for commitment events and lock additions.
	PHTLC *htlcdb.PHTLC
}

func newEvent(t EventType, caller htlcdb.Address, htlc *htlcdb.HTLC,
	phtlc *htlcdb.PHTLC) *Event {

	event := &Event{
		Type:   t,
		Caller: caller,
	}
	if htlc != nil {
		event.HTLC = htlc.Copy()
	}
	if phtlc != nil {
		event.PHTLC = phtlc.Copy()
	}

	return event
}

// ID returns the id of the record the event is about.
func (e *Event) ID() htlcdb.ID {
	if e.HTLC != nil {
		return e.HTLC.ID
	}
	if e.PHTLC != nil {
		return e.PHTLC.ID
	}

	return htlcdb.ZeroID
}

// SubscribeEvents returns a client receiving all events committed after the
// call. Updates are delivered as *Event values.
func (l *Ledger) SubscribeEvents() (*subscribe.Client, error) {
	return l.events.Subscribe()
}

// publish hands an event to the subscribers, if the event server runs.
func (l *Ledger) publish(event *Event) {
	if atomic.LoadUint32(&l.started) == 0 {
		return
	}

	if err := l.events.SendUpdate(event); err != nil {
		log.Warnf("Unable to publish %v event for %v: %v", event.Type,
			event.ID(), err)
	}
}
