package audio

import "errors"

// ErrRoutingUnsupported is returned by routers that cannot change output routing.
var ErrRoutingUnsupported = errors.New("audio: output routing not supported on this host")

// Router changes shared system output routing. Changes are global, best
// effort, and never reverted by this package.
type Router interface {
	SetCommunicationMode() error
	SetSpeakerphoneOn(on bool) error
}

// NopRouter is the Router for hosts without a controllable audio manager.
type NopRouter struct{}

func (NopRouter) SetCommunicationMode() error     { return ErrRoutingUnsupported }
func (NopRouter) SetSpeakerphoneOn(on bool) error { return ErrRoutingUnsupported }
