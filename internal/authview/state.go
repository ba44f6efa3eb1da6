// Package authview is the login/signup view.
//
// A View shows one of two screens: an anonymous screen with the credential
// form, or an authenticated screen with a logout control. Which one is
// rendered depends only on whether the view currently holds a user. All
// credential work is delegated to an identity.Provider.
//
// The view tracks its progress with a small state machine:
//
//	Anonymous --action--> Pending --ok--> Authenticated
//	    ^                    |               |
//	    +-------failed-------+               |
//	    +--------------deauthenticate--------+
//
// While Pending, further actions are rejected with ErrActionPending and
// auth state notifications are ignored, so the outcome of the action in
// flight decides the user.
package authview

import "errors"

var ErrActionPending = errors.New("authview: an action is already in progress")

// Phase is the view's position in the auth state machine.
type Phase int

const (
	PhaseAnonymous Phase = iota
	PhasePending
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseAnonymous:
		return "anonymous"
	case PhasePending:
		return "pending"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// FormState is the transient credential input. The view never clears it.
type FormState struct {
	Email    string
	Password string
}

// UIState is purely presentational. The zero value is signup mode with the
// password hidden.
type UIState struct {
	ShowPassword bool
	IsLogin      bool
}
