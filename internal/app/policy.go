package app

import (
	"github.com/classmesh/liveroom/internal/core"
	"github.com/classmesh/liveroom/internal/domain"
)

// SlowConsumerPolicy tolerates transient backpressure by dropping frames and
// evicts a connection once its queue has been full for KickAfter consecutive
// sends. An evicted connection is treated like a lost one.
type SlowConsumerPolicy struct {
	KickAfter int
}

func (p SlowConsumerPolicy) OnBackPressure(room domain.RoomID, conn core.ConnID, consecutiveDrops int) core.BackpressureAction {
	if p.KickAfter > 0 && consecutiveDrops >= p.KickAfter {
		return core.KickMember
	}
	return core.DropFrame
}
