package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	credithandler "github.com/sheikh-saqib/credit-ledger/internal/handler/credit"
	"github.com/sheikh-saqib/credit-ledger/internal/handler/middleware"
	"github.com/sheikh-saqib/credit-ledger/internal/handler/respond"
	stripehandler "github.com/sheikh-saqib/credit-ledger/internal/handler/stripe"
	"github.com/sheikh-saqib/credit-ledger/pkg/dto"
)

func (app *App) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.WithLogging)
	r.Use(middleware.WithAuth([]byte(app.Config.JWTSecret), app.Config.AuthDisabledURLs))

	creditHandler := credithandler.New(app.Ledger, app.Store, app.Config.CourtesyDefault())
	stripeHandler := stripehandler.New(app.Gateway, app.Reconciler, app.Store, app.Config.MinCheckoutAmount(), app.Config.PublicBaseURL)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respond.JSON(w, http.StatusOK, dto.Status{Status: "ok"})
	})

	r.Route("/api/credits", func(r chi.Router) {
		r.Post("/courtesy", creditHandler.Courtesy)
		r.Get("/{tenantID}/balance", creditHandler.Balance)
		r.Get("/{tenantID}/entries", creditHandler.Entries)
	})

	r.Get("/api/admin/reconciliations/unresolved", creditHandler.Unresolved)

	r.Route("/api/stripe", func(r chi.Router) {
		r.Post("/checkout", stripeHandler.Checkout)
		r.Post("/webhook", stripeHandler.Webhook)
		r.Get("/success", stripeHandler.Success)
		r.Get("/cancel", stripeHandler.Cancel)
	})

	return r
}
