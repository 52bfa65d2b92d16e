// Package provider abstracts the authentication backend. A Provider is a
// stateful client in the style of a hosted auth SDK: it tracks the current
// signed-in principal and broadcasts state changes to listeners.
package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Provider error codes. These form the fixed enumerated set a backend may
// report; callers match with errors.Is.
var (
	// ErrEmailInUse is reported by SignUp when the email is taken.
	ErrEmailInUse = errors.New("email already in use")
	// ErrInvalidEmail is reported when the email is malformed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword is reported by SignUp when the password is too short.
	ErrWeakPassword = errors.New("password too weak")
	// ErrUserNotFound is reported by SignIn and SendPasswordReset when no
	// account matches the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrWrongPassword is reported by SignIn on a failed password check.
	ErrWrongPassword = errors.New("wrong password")
)

// MinPasswordLen is the shortest password SignUp accepts.
const MinPasswordLen = 6

// Credential is an email/password pair.
type Credential struct {
	Email    string
	Password string
}

// State is one auth-state notification: the current principal, or absent.
type State struct {
	UID     string
	Present bool
}

// Provider is the authentication backend abstraction.
type Provider interface {
	// SignIn verifies the credential and returns the principal UID. The
	// provider's current state moves to that principal and is broadcast.
	SignIn(ctx context.Context, cred Credential) (string, error)

	// SignUp creates a new principal and signs it in.
	SignUp(ctx context.Context, cred Credential) (string, error)

	// SendPasswordReset dispatches a reset challenge to the email.
	SendPasswordReset(ctx context.Context, email string) error

	// SignOut clears the current principal and broadcasts the absence.
	SignOut(ctx context.Context) error

	// States subscribes to auth-state notifications. The channel first
	// yields the current state, then every subsequent change. The cancel
	// func releases the listener.
	States() (<-chan State, func())
}

func validateCredential(cred Credential) error {
	if !strings.Contains(cred.Email, "@") || !strings.Contains(cred.Email, ".") {
		return ErrInvalidEmail
	}
	if len(cred.Password) < MinPasswordLen {
		return ErrWeakPassword
	}
	return nil
}

// broadcaster fans auth-state changes out to listeners. Sends never block:
// a listener that falls more than a few states behind loses the oldest
// ones, which is harmless because only the latest state matters.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan State
	next int
	last State
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan State)}
}

func (b *broadcaster) subscribe() (<-chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan State, 8)
	ch <- b.last
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = st
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
}
