package authflow

import "time"

// Purpose says why a code is awaited.
type Purpose int

const (
	// Enrollment proves ownership of the email address on a first sign-in.
	Enrollment Purpose = iota + 1
	// Verification is the second factor of a returning identity.
	Verification
)

func (p Purpose) String() string {
	switch p {
	case Enrollment:
		return "enrollment"
	case Verification:
		return "verification"
	}
	return "unknown"
}

// State is one of EnteringPin, LockedOut, AwaitingCode or Authenticated. The set is closed:
// only this package implements it.
type State interface {
	isState()
}

// EnteringPin waits for a PIN. LastError holds the outcome of the previous attempt, if any.
type EnteringPin struct {
	LastError error
}

// LockedOut refuses PIN entry until Until.
type LockedOut struct {
	Until          time.Time
	SupportContact string
}

// AwaitingCode waits for the emailed code.
type AwaitingCode struct {
	Purpose           Purpose
	Destination       string
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
	LastError         error

	token string
	user  User
}

// Authenticated holds the bearer for the records API.
type Authenticated struct {
	User        User
	AccessToken string
	ExpiresAt   time.Time
}

func (EnteringPin) isState() {}
func (LockedOut) isState() {}
func (AwaitingCode) isState() {}
func (Authenticated) isState() {}

// User is the signed-in person as reported at PIN time.
type User struct {
	ID          string
	Class       string
	FirstName   string
	LastName    string
	Email       string
	Permissions []string
}

// IsAdmin reports whether the user is the clinic administrator.
func (u User) IsAdmin() bool { return u.Class == "admin" }
