package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/mkundi/tumapay/internal/core/domain"
	"github.com/mkundi/tumapay/internal/core/ledger"
)

type TransferHandler struct {
	Ledger *ledger.Service
}

type TransferRequest struct {
	SenderHandle   string `json:"sender_handle"`
	ReceiverHandle string `json:"receiver_handle"`
	Amount         int64  `json:"amount"` // minor units
}

// Transfer moves value between two handles and returns the committed record.
func (h *TransferHandler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, domain.Validationf("invalid request body"))
	}

	rec, err := h.Ledger.Transfer(c.Context(), req.SenderHandle, req.ReceiverHandle, req.Amount)
	if err != nil {
		return writeError(c, err)
	}

	slog.Info("transfer committed",
		"sender", rec.SenderHandle, "receiver", rec.ReceiverHandle, "amount", rec.Amount)
	return c.JSON(rec)
}

type HistoryResponse struct {
	Transfers []domain.TransferRecord `json:"transfers"`
}

// History lists the handle's transfers, oldest first.
func (h *TransferHandler) History(c *fiber.Ctx) error {
	paymentHandle := c.Params("handle")

	records, err := h.Ledger.History(c.Context(), paymentHandle)
	if err != nil {
		return writeError(c, err)
	}
	if records == nil {
		records = []domain.TransferRecord{}
	}
	return c.JSON(HistoryResponse{Transfers: records})
}
