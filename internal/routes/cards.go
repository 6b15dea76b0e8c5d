package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardledger/internal/cards"
)

// RegisterCardRoutes wires the balance check, withdrawal and incoming payment endpoints.
func RegisterCardRoutes(r fiber.Router, h *cards.Handler) {
	r.Post("/balance/checks", h.Check)
	r.Post("/cards/withdrawals", h.Withdraw)
	r.Post("/payments", h.Pay)
}
