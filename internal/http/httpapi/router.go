package httpapi

import (
	"net/http"
	"time"

	"bookforge/internal/http/handlers"
	"bookforge/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Options configures the cross-cutting middleware of the API.
type Options struct {
	JWTSecret       string
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// StaticDir serves filesystem artifacts under /static when set.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Route("/v1/books", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
				r.Post("/generate", app.GenerateBook)
				r.Post("/outline-only", app.OutlineOnly)
				r.Post("/cover", app.Cover)
				r.Post("/audiobook", app.Audiobook)
			})
			r.Get("/jobs/{job_id}", app.BookJobStatus)
			r.Post("/jobs/{job_id}/export", app.ExportBook)
		})

		r.Route("/v1/research", func(r chi.Router) {
			r.Post("/analyze", app.ResearchAnalyze)
			r.Get("/trending", app.ResearchTrending)
		})
	})

	return r
}
