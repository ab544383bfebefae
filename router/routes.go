// Package router wires the HTTP surface. Callback routes sit outside
// API key auth: the bank's browser redirect cannot carry a bearer
// token, authenticity comes from the gateway hash verification.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/handler"
	"github.com/tahsilat/sanalpos/infra/middle"
	"github.com/tahsilat/sanalpos/infra/response"
	"github.com/tahsilat/sanalpos/store"
	"github.com/tahsilat/sanalpos/txn"

	// Adapter packages register themselves into the default registry.
	_ "github.com/tahsilat/sanalpos/gateway/akbank"
	_ "github.com/tahsilat/sanalpos/gateway/est"
	_ "github.com/tahsilat/sanalpos/gateway/garanti"
	_ "github.com/tahsilat/sanalpos/gateway/interpos"
	_ "github.com/tahsilat/sanalpos/gateway/kuveyt"
	_ "github.com/tahsilat/sanalpos/gateway/param"
	_ "github.com/tahsilat/sanalpos/gateway/payflex"
	_ "github.com/tahsilat/sanalpos/gateway/payfor"
	_ "github.com/tahsilat/sanalpos/gateway/posnet"
	_ "github.com/tahsilat/sanalpos/gateway/tosla"
	_ "github.com/tahsilat/sanalpos/gateway/vakifkatilim"
)

// Deps carries the shared services the handlers need.
type Deps struct {
	Manager *txn.Manager
	Store   *store.SQLiteStore
}

// Routes registers all API routes
func Routes(r chi.Router, deps Deps) {
	validate := validator.New()

	paymentHandler := handler.NewPaymentHandler(deps.Manager, deps.Store, validate)
	configHandler := handler.NewConfigHandler(deps.Store, validate)
	cardHandler := handler.NewCardHandler(validate)
	healthHandler := handler.NewHealthHandler(deps.Store, gateway.DefaultRegistry)

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)

	r.Route("/v1", func(r chi.Router) {
		// Bank redirects land here without credentials.
		r.Route("/callback", func(r chi.Router) {
			r.Post("/{configID}", paymentHandler.HandleCallback)
			r.Get("/{configID}", paymentHandler.HandleCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(middle.AuthMiddleware())

			r.Route("/payments", func(r chi.Router) {
				r.Post("/", paymentHandler.ProcessPayment)
				r.Get("/{reference}", paymentHandler.QueryPayment)
				r.Post("/{reference}/refund", paymentHandler.RefundPayment)
				r.Post("/{reference}/cancel", paymentHandler.CancelPayment)
			})

			r.Get("/installments", paymentHandler.GetInstallments)
			r.Post("/cards/validate", cardHandler.ValidateCard)

			r.Route("/configs", func(r chi.Router) {
				r.Post("/", configHandler.SaveConfig)
				r.Get("/", configHandler.ListConfigs)
				r.Get("/{configID}", configHandler.GetConfig)
				r.Delete("/{configID}", configHandler.DeleteConfig)

				r.Post("/{configID}/installment-options", configHandler.SaveInstallmentOption)
				r.Get("/{configID}/installment-options", configHandler.ListInstallmentOptions)
			})
			r.Delete("/installment-options/{optionID}", configHandler.DeleteInstallmentOption)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.WriteJSON(w, http.StatusNotFound, response.Response{
			Code:    http.StatusNotFound,
			Success: false,
			Message: "Not Found",
		})
	})
}
