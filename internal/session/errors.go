package session

import (
	"errors"

	"github.com/ChequedMetal/App-Mobile/internal/provider"
)

var (
	// ErrProfileNotFound means the auth backend accepted the credential
	// but no profile document exists for the principal.
	ErrProfileNotFound = errors.New("profile document not found")
	// ErrNotAuthenticated means an attendance operation ran with no
	// session; the caller is signalled to redirect to sign-in.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrResetDelivery wraps any failure to dispatch a password reset.
	ErrResetDelivery = errors.New("password reset delivery failed")
)

// UserMessage maps an error from any Store operation to the text shown to
// the user. Unknown errors get a generic message, never the raw cause.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, provider.ErrEmailInUse):
		return "That email is already in use. Try another one."
	case errors.Is(err, provider.ErrInvalidEmail):
		return "The email address is not valid."
	case errors.Is(err, provider.ErrWeakPassword):
		return "The password is too weak. Try a stronger one."
	case errors.Is(err, provider.ErrUserNotFound):
		return "No account exists for those details."
	case errors.Is(err, provider.ErrWrongPassword):
		return "The password is incorrect. Try again."
	case errors.Is(err, ErrProfileNotFound):
		return "No profile exists for this account."
	case errors.Is(err, ErrNotAuthenticated):
		return "You need to sign in first."
	case errors.Is(err, ErrResetDelivery):
		return "Could not send the recovery email. Check that the address is registered."
	default:
		return "Something went wrong. Try again."
	}
}

// failureReason labels a sign-in/sign-up error for metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, provider.ErrEmailInUse):
		return "email_in_use"
	case errors.Is(err, provider.ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, provider.ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, provider.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, provider.ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, ErrProfileNotFound):
		return "profile_not_found"
	default:
		return "unknown"
	}
}
