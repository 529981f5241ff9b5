package reconcile

// State is the binding state of a resource at commit time.
type State int

const (
	StateUnbound State = iota
	StateBound
)

// Action is what a commit does for one resource.
type Action int

const (
	ActionNone Action = iota
	ActionCreate
	ActionDestroy
	ActionUpdate
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreate:
		return "create"
	case ActionDestroy:
		return "destroy"
	case ActionUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// DetermineAction is the commit state machine.
//
//	unbound + absent             -> none
//	unbound + present            -> create
//	bound   + absent             -> destroy
//	bound   + present + changes  -> update
//	bound   + present, no change -> none
func DetermineAction(bound bool, ensure Ensure, staged int) Action {
	switch deriveState(bound) {
	case StateUnbound:
		if ensure == EnsurePresent {
			return ActionCreate
		}
		return ActionNone
	case StateBound:
		if ensure == EnsureAbsent {
			return ActionDestroy
		}
		if staged > 0 {
			return ActionUpdate
		}
	}
	return ActionNone
}

func deriveState(bound bool) State {
	if bound {
		return StateBound
	}
	return StateUnbound
}
