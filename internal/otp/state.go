// Package otp drives a single code verification attempt: six digit slots,
// a resend cooldown, an absolute expiry and automatic submission once the
// code is complete.
package otp

import (
	"errors"

	"github.com/healthtrack/healthtrack/internal/models"
)

type State int

const (
	Entering State = iota
	Submitting
	VerifiedNew
	VerifiedExisting
	Expired
)

func (s State) String() string {
	switch s {
	case Entering:
		return "entering"
	case Submitting:
		return "submitting"
	case VerifiedNew:
		return "verified_new"
	case VerifiedExisting:
		return "verified_existing"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == VerifiedNew || s == VerifiedExisting || s == Expired
}

var (
	ErrCodeIncomplete    = errors.New("code incomplete")
	ErrExpired           = errors.New("code expired")
	ErrBusy              = errors.New("verification not accepting input")
	ErrResendUnavailable = errors.New("resend not available yet")
	ErrRejected          = errors.New("verification rejected")
)

const (
	msgIncomplete = "Please enter the complete 6-digit code"
	msgExpired    = "Your code has expired. Please request a new one."
	msgGeneric    = "Something went wrong. Please try again."
	msgInvalid    = "Invalid verification code"
)

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	State          State
	Contact        models.Contact
	Code           [CodeLength]string
	Focus          int
	ResendCooldown int
	ExpiresIn      int
	CanResend      bool
	IsExpired      bool
	Resending      bool
	Error          string
}

// Filled returns the code entered so far, skipping empty slots.
func (s Snapshot) Filled() string {
	out := make([]byte, 0, CodeLength)
	for _, d := range s.Code {
		out = append(out, d...)
	}
	return string(out)
}
