package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"

	"posledger/internal/domain"
	"posledger/internal/service"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

type Options struct {
	AllowedOrigin      string
	RateLimitPerMinute int
	DefaultTax         domain.TaxConfig
	Logger             *logrus.Logger
}

type API struct {
	service  *service.Service
	validate *validator.Validate
	logger   *logrus.Logger
	opts     Options
}

func New(svc *service.Service, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &API{
		service:  svc,
		validate: validate,
		logger:   opts.Logger,
		opts:     opts,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(a.secureHeaders())
	r.Use(a.cors)
	r.Use(limitBody)
	if a.opts.RateLimitPerMinute > 0 {
		r.Use(httprate.Limit(a.opts.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeMessage(w, http.StatusTooManyRequests, "too many requests")
			}),
		))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Post("/", a.handleCreateProduct)
			r.Get("/low-stock", a.handleLowStock)
			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", a.handleGetProduct)
				r.Delete("/", a.handleDeleteProduct)
				r.Post("/restore", a.handleRestoreProduct)
				r.Patch("/selling-price", a.handleUpdateSellingPrice)
				r.Get("/adjustments", a.handleListAdjustments)
				r.Post("/adjustments", a.handleApplyAdjustment)
				r.Get("/price-history", a.handlePriceHistory)
			})
		})

		r.Route("/sales", func(r chi.Router) {
			r.Post("/", a.handleFinalizeSale)
			r.Route("/{saleID}", func(r chi.Router) {
				r.Get("/", a.handleGetSale)
				r.Get("/returns", a.handleListReturns)
				r.Post("/returns", a.handleProcessReturn)
				r.Post("/cancel", a.handleCancelSale)
			})
		})

		r.Get("/reports/sales-summary", a.handleSalesSummary)
	})

	return r
}

func (a *API) secureHeaders() func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := secureMiddleware.Process(w, r); err != nil {
				a.logger.WithError(err).Warn("secure headers blocked request")
				writeMessage(w, http.StatusBadRequest, "request blocked")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.opts.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		entry := a.logger.WithFields(logrus.Fields{
			"module":     "httpapi",
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(startedAt).String(),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}
