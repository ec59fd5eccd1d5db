package server

import "errors"

// State is the lifecycle of a Server.
//
//	Uninitialized -> Running        Start succeeded
//	Uninitialized -> Failed         Start failed
//	Running       -> Uninitialized  Stop
//	other         -> OutOfOrderCall Start called again
//	Uninitialized -> NonInitCall    Run called before Start
type State int

const (
	Uninitialized State = iota
	Running
	Failed
	NonInitCall
	OutOfOrderCall
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case NonInitCall:
		return "NonInitCall"
	case OutOfOrderCall:
		return "OutOfOrderCall"
	default:
		return "Unknown"
	}
}

var (
	ErrNotStarted = errors.New("server has not been started")
	ErrOutOfOrder = errors.New("server already started")
	ErrNotRunning = errors.New("server was not running")
)
