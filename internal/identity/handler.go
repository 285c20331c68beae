package identity

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"
)

// nonStringMarker prefixes the raw JSON of a field that held a truthy
// non-string value. The result is non-empty yet can never equal a code,
// match the email pattern or name a stored account.
const nonStringMarker = "\x00"

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	demo    bool
}

// NewHandler constructs an identity HTTP handler. In demo mode the
// registration response echoes the verification code.
func NewHandler(service *Service, demo bool) *Handler {
	return &Handler{service: service, demo: demo}
}

// formValue decodes any JSON value. Strings keep their text; null, false
// and zero read as absent; other values become marked non-empty strings so
// they fail the field checks instead of the decode.
type formValue string

func (v *formValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = formValue(s)
		return nil
	}
	switch string(trimmed) {
	case "null", "false":
		*v = ""
		return nil
	}
	var n float64
	if json.Unmarshal(trimmed, &n) == nil && n == 0 {
		*v = ""
		return nil
	}
	*v = formValue(nonStringMarker + string(trimmed))
	return nil
}

type registerRequest struct {
	Name     formValue `json:"name"`
	Email    formValue `json:"email"`
	Password formValue `json:"password"`
}

type verifyRequest struct {
	Email formValue `json:"email"`
	Code  formValue `json:"code"`
}

type loginRequest struct {
	Email    formValue `json:"email"`
	Password formValue `json:"password"`
}

type registerResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	DemoCode string `json:"demoCode,omitempty"`
}

type verifyResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type loginResponse struct {
	OK      bool    `json:"ok"`
	User    Profile `json:"user"`
	Message string  `json:"message"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	reg, err := h.service.Register(c.UserContext(), RegisterInput{
		Name:     string(req.Name),
		Email:    string(req.Email),
		Password: string(req.Password),
	})
	if err != nil {
		return h.fail(c, err)
	}
	resp := registerResponse{OK: true, Message: "User registered. Check your email for the verification code."}
	if h.demo {
		resp.DemoCode = reg.Code
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// Verify confirms an email with its verification code.
func (h *Handler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if err := h.service.Verify(c.UserContext(), string(req.Email), string(req.Code)); err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(verifyResponse{OK: true, Message: "Email verified successfully"})
}

// Login authenticates a verified account.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	profile, err := h.service.Login(c.UserContext(), string(req.Email), string(req.Password))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(loginResponse{OK: true, User: profile, Message: "Login successful"})
}

// fail writes domain errors as {error, message}. Anything else is handed to
// the application error handler, which answers with an opaque server_error.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	kind := KindOf(err)
	if kind == KindServer {
		return err
	}
	return c.Status(StatusOf(kind)).JSON(ErrorResponse{Error: CodeOf(err), Message: err.Error()})
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind Kind) int {
	switch kind {
	case KindValidation, KindConflict, KindMissingFields, KindInvalidCode:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidPassword:
		return http.StatusUnauthorized
	case KindNotVerified:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. Bodies that are empty or not sent as
// application/json leave dst zeroed, so the service reports the missing
// fields. Unparsable JSON is a server_error, like any other request the
// handlers cannot make sense of.
func decode(c *fiber.Ctx, dst any) error {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 || !c.Is("json") {
		return nil
	}
	if err := c.App().Config().JSONDecoder(body, dst); err != nil {
		return oops.With("operation", "decode request body").Wrap(err)
	}
	return nil
}
