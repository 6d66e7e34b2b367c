package swap

// IsFuture returns true if the timelock lies strictly after now. Creating or
// extending a lock requires this.
func IsFuture(timelock, now uint64) bool {
	return timelock > now
}

// Expired returns true once the timelock has been reached. Redeem is closed
// and refund is open from this point on.
func Expired(timelock, now uint64) bool {
	return now >= timelock
}

// Remaining returns the time left until the timelock expires, or zero if it
// already has.
func Remaining(timelock, now uint64) uint64 {
	if Expired(timelock, now) {
		return 0
	}

	return timelock - now
}
