package cards

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/ledger"
)

// Handler exposes the card balance endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a card HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type cardRequest struct {
	Number          string          `json:"number"`
	CVVCode         string          `json:"cvv_code"`
	Expiry          string          `json:"expiry"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Currency        string          `json:"currency"`
}

type incomingRequest struct {
	Sender         string          `json:"sender"`
	Number         string          `json:"number"`
	IncomingAmount decimal.Decimal `json:"incoming_amount"`
	Currency       string          `json:"currency"`
}

type cardResponse struct {
	Number          string          `json:"number"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Approved        bool            `json:"approved"`
	Currency        string          `json:"currency"`
}

// Check answers whether the card balance covers the requested amount.
func (h *Handler) Check(c *fiber.Ctx) error {
	var req cardRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	out, err := h.service.Check(c.UserContext(), CheckInput{
		CardNumber: req.Number,
		Currency:   req.Currency,
		Amount:     req.RequestedAmount,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(out))
}

// Withdraw debits the card.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req cardRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	out, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		CardNumber: req.Number,
		Currency:   req.Currency,
		Amount:     req.RequestedAmount,
		CVV:        req.CVVCode,
		Expiry:     req.Expiry,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(toCardResponse(out))
}

// Pay credits an incoming payment to the card. The body is a bare JSON boolean.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req incomingRequest
	if err := parse(c, &req); err != nil {
		return err
	}
	out, err := h.service.Pay(c.UserContext(), PayInput{
		Sender:     req.Sender,
		CardNumber: req.Number,
		Currency:   req.Currency,
		Amount:     req.IncomingAmount,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(out.Success)
}

type validatable interface {
	validate() error
}

func parse(c *fiber.Ctx, req validatable) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

func toCardResponse(out Outcome) cardResponse {
	return cardResponse{
		Number:          out.CardNumber,
		RequestedAmount: out.Amount,
		Approved:        out.Approved,
		Currency:        out.Currency,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrOutcomeUnknown):
		return fiber.NewError(http.StatusInternalServerError, "outcome unknown, verify the balance before retrying")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "card account not found")
	case errors.Is(err, ledger.ErrCredentialMismatch):
		return fiber.NewError(http.StatusForbidden, "card credentials rejected")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrWriteConflict):
		return fiber.NewError(http.StatusConflict, "card account busy, retry")
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger store unavailable, retry")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
