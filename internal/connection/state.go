package connection

// State 是连接的生命周期状态, 只由 Manager 修改
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// StateEvent 描述一次状态变化, Err 为导致变化的错误 (可选)
type StateEvent struct {
	Old State
	New State
	Err error
}
