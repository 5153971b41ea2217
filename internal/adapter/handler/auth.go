package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/ledger"
)

type AuthHandler struct {
	Ledger *ledger.Service
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupResponse struct {
	PaymentHandle string `json:"payment_handle"`
}

// Signup registers an account and returns its freshly minted payment handle.
func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, domain.Validationf("invalid request body"))
	}

	paymentHandle, _, err := h.Ledger.CreateAccount(c.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	slog.Info("account created", "handle", paymentHandle)
	return c.Status(fiber.StatusCreated).JSON(SignupResponse{PaymentHandle: paymentHandle})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	PaymentHandle string `json:"payment_handle"`
	Balance       int64  `json:"balance"`
}

// Login checks credentials and returns the account's handle and balance.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, domain.Validationf("invalid request body"))
	}

	paymentHandle, balance, err := h.Ledger.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(LoginResponse{PaymentHandle: paymentHandle, Balance: balance})
}
