package loader

// State состояние модуля в жизненном цикле
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateActive
	StateReloading
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateReloading:
		return "reloading"
	default:
		return "unknown"
	}
}
