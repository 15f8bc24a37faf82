package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/ntroshkin/rewardledger-system/internal/middleware"
)

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// SetupRouter настраивает HTTP-маршруты и middleware реестра наград.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/", h.GetLedger)
			r.Get("/balance", h.GetBalance)
			r.Get("/stats", h.GetStats)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Post("/deposit", h.Deposit)
				r.Post("/disburse", h.Disburse)
				r.Post("/disburse/batch", h.BatchDisburse)

				r.Post("/withdraw", h.Withdraw)
				r.Post("/withdraw/all", h.WithdrawAll)
				r.Post("/withdraw/emergency", h.EmergencyWithdraw)

				r.Post("/pause", h.Pause)
				r.Post("/unpause", h.Unpause)

				r.Put("/bounds/min", h.SetMinBound)
				r.Put("/bounds/max", h.SetMaxBound)

				r.Post("/owner", h.TransferOwnership)
			})
		})

		r.Get("/recipients/{address}/stats", h.GetUserStats)

		r.Route("/rewards", func(r chi.Router) {
			r.Get("/id", h.ComputeRewardID)
			r.Get("/check", h.CheckActivityReward)
			r.Get("/{rewardID}", h.GetReward)
			r.Get("/{rewardID}/processed", h.IsRewardProcessed)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
