package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tahsilat/sanalpos/card"
	"github.com/tahsilat/sanalpos/infra/response"
)

// CardHandler exposes stateless card checks so storefronts can verify
// a number before starting a payment. Nothing here is persisted.
type CardHandler struct {
	validate *validator.Validate
}

func NewCardHandler(validate *validator.Validate) *CardHandler {
	return &CardHandler{validate: validate}
}

type cardValidatePayload struct {
	Number string `json:"number" validate:"required,min=8,max=19"`
}

// ValidateCard checks the Luhn digit and reports brand, issuer and the
// masked form of a card number.
func (h *CardHandler) ValidateCard(w http.ResponseWriter, r *http.Request) {
	var req cardValidatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	response.Success(w, http.StatusOK, "Card validated", map[string]any{
		"valid":  card.LuhnValid(req.Number),
		"brand":  card.DetectBrand(req.Number),
		"issuer": card.DetectIssuer(req.Number),
		"masked": card.Mask(req.Number),
	})
}
