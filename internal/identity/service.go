package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/pet-saude/authsvc/internal/logging"
)

const (
	minPasswordLength  = 6
	defaultMailTimeout = 10 * time.Second
)

// jsSpace is the ECMAScript whitespace and line terminator set, which is
// wider than RE2's \s. Form validation follows the ECMAScript rules.
const jsSpace = `\t\n\v\f\r \x{00a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}`

var emailPattern = regexp.MustCompile(`^[^` + jsSpace + `@]+@[^` + jsSpace + `@]+\.[^` + jsSpace + `@]+$`)

// Event names and results passed to an EventRecorder.
const (
	EventRegister = "register"
	EventVerify   = "verify"
	EventLogin    = "login"

	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// CodeSender delivers a verification code out of band.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// EventRecorder counts credential lifecycle outcomes.
type EventRecorder interface {
	RecordEvent(event, result string)
}

// Service manages the credential lifecycle: register, verify, login.
type Service struct {
	repo        Repository
	sender      CodeSender
	hasher      PasswordHasher
	random      Random
	now         func() time.Time
	mailTimeout time.Duration
	logger      *slog.Logger
	events      EventRecorder
}

// Option customizes a Service.
type Option func(*Service)

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h PasswordHasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithRandom replaces the crypto/rand source for salts and codes.
func WithRandom(r Random) Option {
	return func(s *Service) { s.random = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMailTimeout bounds how long registration waits on the CodeSender.
func WithMailTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.mailTimeout = d
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEvents sets the recorder for lifecycle outcomes.
func WithEvents(events EventRecorder) Option {
	return func(s *Service) { s.events = events }
}

// NewService creates a new identity service. sender may be nil, in which case
// codes are only returned to the caller.
func NewService(repo Repository, sender CodeSender, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		sender:      sender,
		hasher:      NewBcryptHasher(0),
		random:      NewCryptoRandom(),
		now:         time.Now,
		mailTimeout: defaultMailTimeout,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates the form, stores an unverified account and mails its
// verification code. Mail failures are logged and never returned.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	if err := validateRegistration(in); err != nil {
		s.record(EventRegister, ResultRejected)
		return Registration{}, err
	}

	email := NormalizeEmail(in.Email)
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		s.logger.Warn("registration with existing email", "email", email)
		s.record(EventRegister, ResultRejected)
		return Registration{}, errEmailExists(email)
	} else if !errors.Is(err, ErrAccountNotFound) {
		s.record(EventRegister, ResultError)
		return Registration{}, oops.With("operation", "lookup account").Wrap(err)
	}

	salt, err := s.random.Salt()
	if err != nil {
		s.record(EventRegister, ResultError)
		return Registration{}, err
	}
	hash, err := s.hasher.Hash(in.Password, salt)
	if err != nil {
		s.record(EventRegister, ResultError)
		return Registration{}, err
	}
	code, err := s.random.Code()
	if err != nil {
		s.record(EventRegister, ResultError)
		return Registration{}, err
	}

	account := Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         in.Name,
		PasswordHash: hash,
		Salt:         salt,
		PendingCode:  code,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			s.logger.Warn("registration with existing email", "email", email)
			s.record(EventRegister, ResultRejected)
			return Registration{}, errEmailExists(email)
		}
		s.record(EventRegister, ResultError)
		return Registration{}, oops.With("operation", "create account").Wrap(err)
	}

	s.deliver(ctx, in.Email, code)

	s.logger.Info("account registered", "email", email, "account_id", account.ID)
	s.record(EventRegister, ResultOK)
	return Registration{Account: account, Code: code}, nil
}

func (s *Service) deliver(ctx context.Context, email, code string) {
	if s.sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	defer cancel()
	if err := s.sender.SendVerificationCode(ctx, email, code); err != nil {
		logging.LogError(s.logger, "verification mail failed, continuing", err, "email", email)
	}
}

// Verify marks the account verified when code matches its pending code.
// Verified accounts have no pending code, so re-verification fails.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	if email == "" || code == "" {
		s.record(EventVerify, ResultRejected)
		return errMissingFields("email and code are required")
	}

	key := NormalizeEmail(email)
	_, err := s.repo.Update(ctx, key, func(account *Account) error {
		if account.PendingCode == "" || subtle.ConstantTimeCompare([]byte(account.PendingCode), []byte(code)) != 1 {
			return errInvalidCode()
		}
		account.Verified = true
		account.PendingCode = ""
		account.VerifiedAt = s.now().UTC()
		return nil
	})
	switch {
	case err == nil:
		s.logger.Info("account verified", "email", key)
		s.record(EventVerify, ResultOK)
		return nil
	case errors.Is(err, ErrAccountNotFound):
		s.record(EventVerify, ResultRejected)
		return errUserNotFound("user not found")
	case CodeOf(err) == CodeInvalidCode:
		s.logger.Warn("verification with invalid code", "email", key)
		s.record(EventVerify, ResultRejected)
		return err
	default:
		s.record(EventVerify, ResultError)
		return oops.With("operation", "verify account").Wrap(err)
	}
}

// Login checks credentials of a verified account and returns its profile.
// It never modifies the account.
func (s *Service) Login(ctx context.Context, email, password string) (Profile, error) {
	if email == "" || password == "" {
		s.record(EventLogin, ResultRejected)
		return Profile{}, errMissingFields("email and password are required")
	}

	key := NormalizeEmail(email)
	account, err := s.repo.FindByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.logger.Warn("login with unknown email", "email", key)
			s.record(EventLogin, ResultRejected)
			return Profile{}, errUserNotFound("invalid credentials")
		}
		s.record(EventLogin, ResultError)
		return Profile{}, oops.With("operation", "lookup account").Wrap(err)
	}

	if !account.Verified {
		s.logger.Warn("login before verification", "email", key)
		s.record(EventLogin, ResultRejected)
		return Profile{}, errNotVerified()
	}

	ok, err := s.hasher.Verify(password, account.Salt, account.PasswordHash)
	if err != nil {
		s.record(EventLogin, ResultError)
		return Profile{}, err
	}
	if !ok {
		s.logger.Warn("login with invalid password", "email", key)
		s.record(EventLogin, ResultRejected)
		return Profile{}, errInvalidPassword()
	}

	s.logger.Info("login succeeded", "email", key)
	s.record(EventLogin, ResultOK)
	return account.Profile(), nil
}

func (s *Service) record(event, result string) {
	if s.events != nil {
		s.events.RecordEvent(event, result)
	}
}

func validateRegistration(in RegisterInput) error {
	if strings.TrimFunc(in.Name, isJSSpace) == "" {
		return validationError(CodeNameRequired, "name", "name is required")
	}
	if !emailPattern.MatchString(in.Email) {
		return validationError(CodeInvalidEmail, "email", "email is invalid")
	}
	if utf16Len(in.Password) < minPasswordLength {
		return validationError(CodeWeakPassword, "password", "password must be at least 6 characters")
	}
	return nil
}

func isJSSpace(r rune) bool {
	switch r {
	case '\t', '\n', '\v', '\f', '\r', ' ', '\u00a0', '\u1680', '\u2028', '\u2029',
		'\u202f', '\u205f', '\u3000', '\ufeff':
		return true
	}
	return r >= '\u2000' && r <= '\u200a'
}

// utf16Len counts UTF-16 code units, so characters outside the BMP count twice.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
