package election

// Action is an admin request to move an election between statuses.
type Action string

const (
	ActionActivate Action = "activate"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionStop     Action = "stop"
	ActionEnd      Action = "end"
	ActionCancel   Action = "cancel"
)

type rule struct {
	from []Status
	to   Status
}

var rules = map[Action]rule{
	ActionActivate: {from: []Status{StatusPending}, to: StatusActive},
	ActionPause:    {from: []Status{StatusActive}, to: StatusPaused},
	ActionResume:   {from: []Status{StatusPaused}, to: StatusActive},
	ActionStop:     {from: []Status{StatusActive, StatusPaused}, to: StatusStopped},
	ActionEnd:      {from: []Status{StatusStopped}, to: StatusEnded},
	ActionCancel:   {from: []Status{StatusPending, StatusActive, StatusPaused}, to: StatusCancelled},
}

// Actions lists every action in table order.
func Actions() []Action {
	return []Action{ActionActivate, ActionPause, ActionResume, ActionStop, ActionEnd, ActionCancel}
}

// ParseAction maps a request path segment to an Action.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	_, ok := rules[a]
	return a, ok
}

// Next returns the status reached by applying a to an election in from.
func Next(a Action, from Status) (Status, error) {
	r, ok := rules[a]
	if !ok {
		return "", wrap(ErrInvalidTransition, "unknown action %q", a)
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return "", wrap(ErrInvalidTransition, "cannot %s an election that is %s", a, from)
}

// CanTransition reports whether the table allows moving from one stored
// status to another.
func CanTransition(from, to Status) bool {
	for _, r := range rules {
		if r.to != to {
			continue
		}
		for _, s := range r.from {
			if s == from {
				return true
			}
		}
	}
	return false
}
