package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

const (
	requestIDHeader = "X-Request-ID"
	cacheControl    = "public, max-age=3600"
)

// errBadRequest marks query parameters that cannot be parsed.
var errBadRequest = errors.New("bad request")

type tariffLookup interface {
	Lookup(ctx context.Context, req tariff.Request, opts LookupOptions) (*scraper_pkg.Outcome, error)
}

// API serves the HTTP surface.
type API struct {
	lookup tariffLookup
	logger *zap.Logger
	now    func() time.Time
}

func NewAPI(lookup tariffLookup, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{lookup: lookup, logger: logger.With(zap.String("component", "http")), now: time.Now}
}

// Handler returns the routed handler wrapped in request IDs, access logging,
// recovery and CORS. The chain wraps the whole router so unmatched routes and
// preflights are logged too.
func (a *API) Handler(corsOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ping", a.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/api/cfe-tarifa", a.handleTariff).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	})
	return chi.Chain(
		assignRequestID,
		middleware.RequestID,
		middleware.RealIP,
		a.accessLog,
		a.recoverJSON,
		withCORS,
	).Handler(r)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"at": strfmt.DateTime(a.now().UTC()),
	})
}

func (a *API) handleTariff(w http.ResponseWriter, r *http.Request) {
	req, kwh, err := parseTariffQuery(r, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out, err := a.lookup.Lookup(r.Context(), req, LookupOptions{KWh: kwh, Trigger: TriggerHTTP})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if out.Result == nil {
		writeJSON(w, http.StatusOK, out.Body())
		return
	}
	if !req.Code.IsDAC() {
		w.Header().Set("Cache-Control", cacheControl)
	}
	writeJSON(w, http.StatusOK, out.Result)
}

// parseTariffQuery applies the defaults: 1D, current year and month,
// summer from May, bimonthly billing.
func parseTariffQuery(r *http.Request, now time.Time) (tariff.Request, *float64, error) {
	q := r.URL.Query()
	req := tariff.NewRequest(now)

	if v := strings.TrimSpace(q.Get("tarifa")); v != "" {
		req.Code = tariff.ParseCode(v)
	}
	var err error
	if req.Year, err = intParam(q.Get("anio"), req.Year, "anio"); err != nil {
		return req, nil, err
	}
	if req.Month, err = intParam(q.Get("mes"), req.Month, "mes"); err != nil {
		return req, nil, err
	}
	if req.SummerStartMonth, err = intParam(q.Get("inicioVerano"), req.SummerStartMonth, "inicioVerano"); err != nil {
		return req, nil, err
	}
	req.IsBimonthly = q.Get("bimestral") != "false"
	req.Debug = q.Get("debug") == "1"

	if err := req.Validate(); err != nil {
		return req, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	var kwh *float64
	if v := strings.TrimSpace(q.Get("kwh")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return req, nil, fmt.Errorf("%w: kwh inválido: %q", errBadRequest, v)
		}
		kwh = &f
	}
	return req, kwh, nil
}

func intParam(raw string, def int, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s inválido: %q", errBadRequest, name, raw)
	}
	return n, nil
}

// writeError maps lookup failures onto status codes: 404 for data that could
// not be located, 400 for bad parameters, 500 for everything else.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case tariff.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, tariff.ErrInvalidKWh):
		status = http.StatusBadRequest
	}
	log := a.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())), zap.Int("status", status))
	if status == http.StatusInternalServerError {
		log.Error("❌ cfe-tarifa error", zap.Error(err))
	} else {
		log.Warn("⚠️ cfe-tarifa request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// assignRequestID gives requests without an ID a UUID before
// middleware.RequestID stores it on the context.
func assignRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(middleware.RequestIDHeader) == "" {
			r.Header.Set(middleware.RequestIDHeader, uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set(requestIDHeader, id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			a.logger.Info(fmt.Sprintf("%s %s %d", r.Method, r.URL.Path, status),
				zap.String("request_id", id),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("query", r.URL.RawQuery),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

// recoverJSON answers a panicking handler with a 500 and an {error} body;
// middleware.Recoverer only writes the status.
func (a *API) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				a.logger.Error("❌ Panic in handler",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprint(v)})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
