package identity

import (
	"strings"
	"time"
)

// Account is a registered user keyed by normalized email.
type Account struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Salt         string
	Verified     bool
	PendingCode  string
	CreatedAt    time.Time
	VerifiedAt   time.Time
}

// Profile is the public projection of an account returned on login.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile returns the public projection of the account.
func (a Account) Profile() Profile {
	return Profile{Name: a.Name, Email: a.Email}
}

// RegisterInput carries registration form fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Registration is the result of a successful registration. Code is the
// verification code that was mailed to the user.
type Registration struct {
	Account Account
	Code    string
}

// NormalizeEmail returns the storage key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(email)
}
