package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings in registration order.
type Registry struct {
	actions []*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an action. An action with the same name is replaced.
func (r *Registry) Add(a *Action) {
	for i, existing := range r.actions {
		if existing.Name == a.Name {
			r.actions[i] = a
			return
		}
	}
	r.actions = append(r.actions, a)
}

// Hints returns the descriptions of all actions that have one.
func (r *Registry) Hints() []string {
	var hints []string
	for _, a := range r.actions {
		if a.Description != "" {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent runs the first matching action and reports whether one matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey) bool {
	for _, a := range r.actions {
		if a.Matches(ev) {
			if a.Handler != nil {
				a.Handler()
			}
			return true
		}
	}
	return false
}
