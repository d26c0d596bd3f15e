// Package submission models the lifecycle of events proposed by anonymous
// visitors, from creation through email confirmation to publication by an admin.
package submission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/afromemo/afromemo/internal/agenda"
)

var (
	// ErrInvalidTransition is returned when an action does not apply to the current state.
	ErrInvalidTransition = errors.New("submission: invalid transition")
	// ErrForbidden is returned when the actor may not perform the action.
	ErrForbidden = errors.New("submission: action not allowed for this actor")
	// ErrMissingCredential is returned when the credential an action needs is absent.
	ErrMissingCredential = errors.New("submission: missing credential")
	// ErrCredentialConflict is returned when an action carries a credential it
	// does not use. Only publishing presents both tokens.
	ErrCredentialConflict = errors.New("submission: unexpected credential for this action")
)

// State is the lifecycle state of a submission.
type State int

const (
	StateDraft State = iota
	StateUnconfirmed
	StatePending
	StatePublished
	StateArchived
	StateDeleted
	StateRemoved
)

var stateNames = [...]string{
	StateDraft:       "draft",
	StateUnconfirmed: "unconfirmed",
	StatePending:     "pending",
	StatePublished:   "published",
	StateArchived:    "archived",
	StateDeleted:     "deleted",
	StateRemoved:     "removed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateArchived || s == StateDeleted || s == StateRemoved
}

// Wire returns the status string stored and exchanged by the API.
func (s State) Wire() string {
	switch s {
	case StateUnconfirmed:
		return "unconfirmed"
	case StatePublished:
		return "active"
	case StateArchived:
		return "archived"
	case StateDeleted:
		return "deleted"
	case StateRemoved:
		return "removed"
	default:
		return "pending"
	}
}

// ParseState maps an API status string to a State. An empty status means the
// submission awaits moderation.
func ParseState(status string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "unconfirmed":
		return StateUnconfirmed, nil
	case "", "pending":
		return StatePending, nil
	case "active", "published":
		return StatePublished, nil
	case "archived":
		return StateArchived, nil
	case "deleted":
		return StateDeleted, nil
	case "removed":
		return StateRemoved, nil
	default:
		return StateDraft, fmt.Errorf("unknown submission status %q", status)
	}
}

// Action is something done to a submission.
type Action string

const (
	ActionCreate  Action = "create"
	ActionConfirm Action = "confirm"
	ActionEdit    Action = "edit"
	ActionPublish Action = "publish"
	ActionCancel  Action = "cancel"
	ActionArchive Action = "archive"
	ActionRemove  Action = "remove"
	// ActionSetStatus shows or hides a published entry (active or inactive).
	ActionSetStatus Action = "set-status"
	// ActionUnpublish sends a published entry back to moderation.
	ActionUnpublish Action = "unpublish"
)

// Actor is who performs an action.
type Actor int

const (
	// Visitor is an anonymous submitter acting through emailed links.
	Visitor Actor = iota
	// Admin is an authenticated administrator.
	Admin
)

func (a Actor) String() string {
	if a == Admin {
		return "admin"
	}
	return "visitor"
}

type rule struct {
	actors map[Actor]bool
	moves  map[State]State
}

var (
	visitorOnly = map[Actor]bool{Visitor: true}
	adminOnly   = map[Actor]bool{Admin: true}
	anyone      = map[Actor]bool{Visitor: true, Admin: true}
)

var rules = map[Action]rule{
	ActionCreate: {visitorOnly, map[State]State{
		StateDraft: StateUnconfirmed,
	}},
	ActionConfirm: {visitorOnly, map[State]State{
		StateUnconfirmed: StatePending,
		StatePending:     StatePending,
	}},
	// Editing a published event takes it offline until it is moderated again.
	ActionEdit: {visitorOnly, map[State]State{
		StateUnconfirmed: StateUnconfirmed,
		StatePending:     StatePending,
		StatePublished:   StatePending,
	}},
	ActionPublish: {adminOnly, map[State]State{
		StatePending:   StatePublished,
		StatePublished: StatePublished,
	}},
	ActionCancel: {anyone, map[State]State{
		StateUnconfirmed: StateDeleted,
		StatePending:     StateDeleted,
		StatePublished:   StateDeleted,
	}},
	ActionArchive: {adminOnly, map[State]State{
		StatePublished: StateArchived,
	}},
	ActionRemove: {adminOnly, map[State]State{
		StateUnconfirmed: StateRemoved,
		StatePending:     StateRemoved,
		StatePublished:   StateRemoved,
	}},
	ActionSetStatus: {adminOnly, map[State]State{
		StatePublished: StatePublished,
	}},
	ActionUnpublish: {adminOnly, map[State]State{
		StatePublished: StatePending,
	}},
}

// EntryState maps the status of an agenda entry to its lifecycle state.
// Inactive entries are published but hidden from the public agenda.
func EntryState(s agenda.Status) State {
	switch s {
	case agenda.StatusActive, agenda.StatusInactive:
		return StatePublished
	case agenda.StatusArchived:
		return StateArchived
	case agenda.StatusDeleted:
		return StateDeleted
	case agenda.StatusRemoved:
		return StateRemoved
	default:
		return StatePending
	}
}

// StatusAction returns the admin action that gives an entry the status s.
func StatusAction(s agenda.Status) (Action, error) {
	switch s {
	case agenda.StatusActive, agenda.StatusInactive:
		return ActionSetStatus, nil
	case agenda.StatusPending:
		return ActionUnpublish, nil
	case agenda.StatusArchived:
		return ActionArchive, nil
	case agenda.StatusDeleted:
		return ActionCancel, nil
	case agenda.StatusRemoved:
		return ActionRemove, nil
	default:
		return "", fmt.Errorf("%w: status %s", ErrInvalidTransition, s)
	}
}

// NextStatus checks that an admin may move an entry from status from to status
// to, and returns the action and the lifecycle state it leads to.
func NextStatus(from, to agenda.Status) (Action, State, error) {
	action, err := StatusAction(to)
	if err != nil {
		return "", EntryState(from), err
	}
	next, err := Next(EntryState(from), action, Admin)
	return action, next, err
}

// Next returns the state reached when actor performs action on a submission in state from.
func Next(from State, action Action, actor Actor) (State, error) {
	r, ok := rules[action]
	if !ok {
		return from, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if !r.actors[actor] {
		return from, fmt.Errorf("%w: %s cannot %s", ErrForbidden, actor, action)
	}
	to, ok := r.moves[from]
	if !ok {
		return from, fmt.Errorf("%w: cannot %s a %s submission", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// Credentials are the secrets presented with an action. The session token and
// the submission token are distinct credentials and are never interchangeable.
type Credentials struct {
	SessionToken    string
	SubmissionToken Token
}

// CheckCredentials verifies that creds match what action requires from actor.
// Visitor actions on an existing submission need the submission token and no
// session token. Admin actions need the session token alone, except publishing,
// which needs both.
func CheckCredentials(action Action, actor Actor, creds Credentials) error {
	if actor == Visitor {
		if creds.SessionToken != "" {
			return ErrCredentialConflict
		}
		if action != ActionCreate && creds.SubmissionToken.Empty() {
			return fmt.Errorf("%w: submission token", ErrMissingCredential)
		}
		return nil
	}
	if creds.SessionToken == "" {
		return fmt.Errorf("%w: session token", ErrMissingCredential)
	}
	switch {
	case action == ActionPublish && creds.SubmissionToken.Empty():
		return fmt.Errorf("%w: submission token", ErrMissingCredential)
	case action != ActionPublish && !creds.SubmissionToken.Empty():
		return fmt.Errorf("%w: submission token on %s", ErrCredentialConflict, action)
	}
	return nil
}
