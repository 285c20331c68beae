package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pet-saude/authsvc/internal/identity"
)

// RegisterIdentityRoutes wires the credential lifecycle endpoints.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/register", h.Register)
	r.Post("/verify", h.Verify)
	r.Post("/login", h.Login)
}
