package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

var fixedNow = time.Date(2025, 7, 15, 10, 30, 0, 123e6, time.UTC)

func newTestAPI(f *fakeFetcher) http.Handler {
	api := NewAPI(NewTariffService(f, nil, nil, nil), nil)
	api.now = func() time.Time { return fixedNow }
	return api.Handler(nil)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestTariffEndpointDefaults(t *testing.T) {
	f := &fakeFetcher{result: tieredResult()}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, f.reqs, 1)
	got := f.reqs[0]
	assert.Equal(t, tariff.Code1D, got.Code)
	assert.Equal(t, 2025, got.Year)
	assert.Equal(t, 7, got.Month)
	assert.Equal(t, 5, got.SummerStartMonth)
	assert.True(t, got.IsBimonthly)
	assert.False(t, got.Debug)

	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, body, "singlePriceKWh")
	assert.NotContains(t, body, "estimate")
	tiers := body["tiers"].([]interface{})
	require.Len(t, tiers, 3)
	surplus := tiers[2].(map[string]interface{})
	assert.Equal(t, "Excedente", surplus["label"])
	assert.Nil(t, surplus["upToKWh"])
	assert.Contains(t, surplus, "upToKWh")
}

func TestTariffEndpointParsesQuery(t *testing.T) {
	f := &fakeFetcher{result: tieredResult()}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?tarifa=1c&anio=2024&mes=2&inicioVerano=4&bimestral=false")
	require.Equal(t, http.StatusOK, rec.Code)
	got := f.reqs[0]
	assert.Equal(t, tariff.Code1C, got.Code)
	assert.Equal(t, 2024, got.Year)
	assert.Equal(t, 2, got.Month)
	assert.Equal(t, 4, got.SummerStartMonth)
	assert.False(t, got.IsBimonthly)
}

func TestTariffEndpointDAC(t *testing.T) {
	price := 6.1
	f := &fakeFetcher{result: &tariff.Result{Code: tariff.CodeDAC, Tiers: []tariff.Tier{}, SinglePriceKWh: &price, FixedCharge: 120}}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?tarifa=DAC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 6.1, body["singlePriceKWh"])
	assert.Empty(t, body["tiers"])
}

func TestTariffEndpointDebugRows(t *testing.T) {
	rows := []tariff.RawRow{{"Consumo básico", "1.0", "Primeros 150 kWh"}}
	f := &fakeFetcher{debug: &scraper_pkg.Outcome{DebugRows: rows}}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?debug=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Control"))
	assert.True(t, f.reqs[0].Debug)

	var body map[string][][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, [][]string{{"Consumo básico", "1.0", "Primeros 150 kWh"}}, body["debugRows"])
}

func TestTariffEndpointDebugEmptyRows(t *testing.T) {
	f := &fakeFetcher{debug: &scraper_pkg.Outcome{DebugRows: []tariff.RawRow{}}}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?debug=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"debugRows":[]}`, rec.Body.String())
}

func TestTariffEndpointDebugDiagnostics(t *testing.T) {
	diag := &scraper_pkg.Diagnostics{Frames: []scraper_pkg.FrameDiagnostic{{Index: 0, Selects: 2}}}
	f := &fakeFetcher{debug: &scraper_pkg.Outcome{Diagnostics: diag}}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?debug=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Debug scraper_pkg.Diagnostics `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Debug.Frames, 1)
	assert.Equal(t, 2, body.Debug.Frames[0].Selects)
}

func TestTariffEndpointEstimate(t *testing.T) {
	f := &fakeFetcher{result: tieredResult()}
	rec := get(t, newTestAPI(f), "/api/cfe-tarifa?kwh=400")
	require.Equal(t, http.StatusOK, rec.Code)

	var res tariff.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Estimate)
	assert.Equal(t, 675.0, res.Estimate.Total)
}

func TestTariffEndpointErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		query  string
		status int
	}{
		{"scope missing", tariff.ErrScopeNotFound, "", http.StatusNotFound},
		{"no tiers", tariff.ErrNoTiersFound, "", http.StatusNotFound},
		{"no dac price", tariff.ErrNoPriceFound, "?tarifa=DAC", http.StatusNotFound},
		{"browser crash", errors.New("browser has been closed"), "", http.StatusInternalServerError},
		{"bad month", nil, "?mes=13", http.StatusBadRequest},
		{"bad year", nil, "?anio=dos", http.StatusBadRequest},
		{"bad kwh", nil, "?kwh=-1", http.StatusBadRequest},
		{"nan kwh", nil, "?kwh=NaN", http.StatusBadRequest},
		{"infinite kwh", nil, "?kwh=Inf", http.StatusBadRequest},
		{"negative infinite kwh", nil, "?kwh=-Inf", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeFetcher{result: tieredResult(), err: tc.err}
			rec := get(t, newTestAPI(f), "/api/cfe-tarifa"+tc.query)
			assert.Equal(t, tc.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tc.err != nil {
				assert.Equal(t, tc.err.Error(), body["error"])
			}
		})
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newTestAPI(&fakeFetcher{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = get(t, h, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestHealthAndPing(t *testing.T) {
	h := newTestAPI(&fakeFetcher{})

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/api/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "2025-07-15T10:30:00.123Z", body["at"])
}

func TestCORSPreflight(t *testing.T) {
	h := newTestAPI(&fakeFetcher{})
	req := httptest.NewRequest(http.MethodOptions, "/api/cfe-tarifa", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerRecoversPanics(t *testing.T) {
	api := NewAPI(panickingLookup{}, nil)
	rec := get(t, api.Handler(nil), "/api/cfe-tarifa")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "kaboom")
}
