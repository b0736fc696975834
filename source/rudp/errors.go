package rudp

import "errors"

var (
	errReservedSlot  = errors.New("rudp: channel slot 0-15 is reserved for built-in deliveries")
	errSlotTaken     = errors.New("rudp: channel slot already installed")
	errNotConnected  = errors.New("rudp: connection is not in the Connected state")
	errNoSuchChannel = errors.New("rudp: no channel installed in that slot")
)
