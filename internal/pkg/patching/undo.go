package patching

import (
	log "github.com/sirupsen/logrus"
)

// undoStack tracks compensation for destructive steps already taken. If the
// pipeline fails partway, the pending actions run in reverse order so the
// device is not left without its asset bundles or saved state. Reaching the
// terminal success state disarms the stack.
type undoStack struct {
	actions []undoAction
}

type undoAction struct {
	name string
	fn   func() error
}

func (u *undoStack) push(name string, fn func() error) {
	u.actions = append(u.actions, undoAction{name: name, fn: fn})
}

// disarm drops all pending actions.
func (u *undoStack) disarm() {
	u.actions = nil
}

// unwind runs pending actions newest-first. Failures here must not mask the
// original pipeline error, so they are logged rather than returned.
func (u *undoStack) unwind() {
	for i := len(u.actions) - 1; i >= 0; i-- {
		a := u.actions[i]
		log.Infof("Attempting to %s after failure", a.name)
		if err := a.fn(); err != nil {
			log.Errorf("Failed to %s: %s", a.name, err)
		}
	}
	u.actions = nil
}
