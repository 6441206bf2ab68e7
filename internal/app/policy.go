package app

import (
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(session core.SessionService, member domain.ConnID, t domain.MessageType) BackpressureAction
}

// SimplePolicy drops application traffic for slow members and kicks members
// that fall behind on control traffic.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(session core.SessionService, member domain.ConnID, t domain.MessageType) BackpressureAction {
	if t.IsApplication() {
		return DropFrame
	}
	return KickMember
}
