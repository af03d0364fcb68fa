package domain

import "time"

// Identity classes. The admin identity is unique and always second-factor enabled.
const (
	ClassAdmin = "admin"
	ClassStaff = "staff"
)

// Identity is a person who can authenticate with a PIN.
// PK: identity_id.
type Identity struct {
	IdentityID       string     `json:"id" dynamodbav:"identity_id"`
	Class            string     `json:"user_type" dynamodbav:"class"`
	PINHash          string     `json:"-" dynamodbav:"pin_hash"`
	Email            string     `json:"email" dynamodbav:"email"`
	FirstName        string     `json:"first_name" dynamodbav:"first_name"`
	LastName         string     `json:"last_name" dynamodbav:"last_name"`
	Permissions      []string   `json:"permissions" dynamodbav:"permissions,stringset,omitempty"`
	TwoFAEnabled     bool       `json:"two_fa_enabled" dynamodbav:"two_fa_enabled"`
	EmailVerified    bool       `json:"email_verified" dynamodbav:"email_verified"`
	TOTPSecret       string     `json:"-" dynamodbav:"totp_secret,omitempty"` // sealed
	TOTPEnabled      bool       `json:"totp_enabled" dynamodbav:"totp_enabled"`
	BackupCodeHashes []string   `json:"-" dynamodbav:"backup_code_hashes,stringset,omitempty"`
	TOTPLastStep     int64      `json:"-" dynamodbav:"totp_last_step,omitempty"` // last accepted time step
	Enable           bool       `json:"enable" dynamodbav:"enable"`
	CreatedAt        time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt        time.Time  `json:"updated" dynamodbav:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" dynamodbav:"deleted_at"`
}

// IsAdmin reports whether the identity is the privileged administrator.
func (i *Identity) IsAdmin() bool { return i.Class == ClassAdmin }

// NeedsEnrollment reports whether a successful PIN must be followed by email ownership proof.
func (i *Identity) NeedsEnrollment() bool {
	return !i.IsAdmin() && !i.EmailVerified
}

// SecondFactorEnabled is always true for the admin identity.
func (i *Identity) SecondFactorEnabled() bool {
	return i.IsAdmin() || i.TwoFAEnabled
}

// CreateStaffRequest provisions a staff identity.
type CreateStaffRequest struct {
	PIN         string   `json:"pin" validate:"required,digits,len=4"`
	Email       string   `json:"email" validate:"required,email"`
	FirstName   string   `json:"first_name" validate:"required"`
	LastName    string   `json:"last_name" validate:"required"`
	Permissions []string `json:"permissions"`
}
