// Package quotinghttp exposes quote versions, pricing and totals over JSON.
package quotinghttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const (
	mutationLimit  = 30
	mutationWindow = time.Minute
)

// MountRoutes registers the quoting endpoints. Mount it under /quotes.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(mutationLimit, mutationWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/totals/{dimension}", h.listTotals)
	r.Get("/totals/{dimension}/rollup", h.rollupTotals)
	r.Get("/versions/{versionID}", h.showVersion)
	r.Get("/versions/{versionID}/pricing", h.pricing)
	r.Get("/{quoteID}", h.showQuote)
	r.Get("/{quoteID}/versions", h.listVersions)
	r.Get("/{quoteID}/totals", h.totalsStatus)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/", h.createQuote)
		gr.Delete("/{quoteID}", h.deleteQuote)
		gr.Post("/{quoteID}/versions", h.createVersion)
		gr.Patch("/versions/{versionID}", h.updateVersion)
		gr.Post("/versions/{versionID}/submit", h.transition(h.versions.Submit))
		gr.Post("/versions/{versionID}/activate", h.transition(h.versions.Activate))
		gr.Post("/versions/{versionID}/discard", h.discardVersion)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id := optionalActor(r); id != 0 {
		return "actor:" + strconv.FormatInt(id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
