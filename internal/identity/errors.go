package identity

import (
	"errors"

	"github.com/samber/oops"
)

// Kind classifies domain errors.
type Kind string

const (
	KindValidation      Kind = "ValidationError"
	KindConflict        Kind = "ConflictError"
	KindNotFound        Kind = "NotFoundError"
	KindInvalidCode     Kind = "InvalidCodeError"
	KindInvalidPassword Kind = "InvalidPasswordError"
	KindNotVerified     Kind = "NotVerifiedError"
	KindMissingFields   Kind = "MissingFieldsError"
	KindServer          Kind = "ServerError"
)

// Stable error codes surfaced to clients.
const (
	CodeNameRequired    = "name_required"
	CodeInvalidEmail    = "invalid_email"
	CodeWeakPassword    = "weak_password"
	CodeEmailExists     = "email_exists"
	CodeMissingFields   = "missing_fields"
	CodeUserNotFound    = "user_not_found"
	CodeInvalidCode     = "invalid_code"
	CodeNotVerified     = "not_verified"
	CodeInvalidPassword = "invalid_password"
	CodeServerError     = "server_error"
)

const kindKey = "kind"

// Repository sentinels. Service methods translate these into coded errors.
var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
)

var codeKinds = map[string]Kind{
	CodeNameRequired:    KindValidation,
	CodeInvalidEmail:    KindValidation,
	CodeWeakPassword:    KindValidation,
	CodeEmailExists:     KindConflict,
	CodeMissingFields:   KindMissingFields,
	CodeUserNotFound:    KindNotFound,
	CodeInvalidCode:     KindInvalidCode,
	CodeNotVerified:     KindNotVerified,
	CodeInvalidPassword: KindInvalidPassword,
}

func domainError(code string) oops.OopsErrorBuilder {
	return oops.Code(code).With(kindKey, string(codeKinds[code]))
}

func validationError(code, field, message string) error {
	return domainError(code).With("field", field).Errorf("%s", message)
}

func errEmailExists(email string) error {
	return domainError(CodeEmailExists).With("email", email).Errorf("this email is already registered")
}

func errMissingFields(message string) error {
	return domainError(CodeMissingFields).Errorf("%s", message)
}

func errUserNotFound(message string) error {
	return domainError(CodeUserNotFound).Errorf("%s", message)
}

func errInvalidCode() error {
	return domainError(CodeInvalidCode).Errorf("invalid code")
}

func errNotVerified() error {
	return domainError(CodeNotVerified).Errorf("email has not been verified yet")
}

func errInvalidPassword() error {
	return domainError(CodeInvalidPassword).Errorf("invalid credentials")
}

// CodeOf returns the client-facing code of a domain error, or CodeServerError
// for anything else.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return CodeServerError
	}
	code, _ := oopsErr.Code().(string)
	if _, known := codeKinds[code]; !known {
		return CodeServerError
	}
	return code
}

// KindOf classifies err. Unknown errors are KindServer.
func KindOf(err error) Kind {
	if kind, ok := codeKinds[CodeOf(err)]; ok {
		return kind
	}
	return KindServer
}
