package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videoagent/internal/auth"
	"github.com/makeasinger/videoagent/internal/middleware"
)

// AuthHandler handles ForwardAuth verification for an API gateway
type AuthHandler struct {
	verifier auth.Verifier
}

func NewAuthHandler(verifier auth.Verifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify. Returns 200 with X-User-* headers on
// success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	if h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	tokenString, ok := middleware.BearerToken(c)
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Validate(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", claims.UserID)
	c.Set("X-User-Email", claims.Email)
	c.Set("X-User-Name", claims.Name)
	return c.SendStatus(fiber.StatusOK)
}
