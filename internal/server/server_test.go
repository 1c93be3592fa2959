package server

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/rgehrsitz/annuity/internal/actuarial"
	"github.com/rgehrsitz/annuity/internal/config"
	"github.com/rgehrsitz/annuity/internal/conversion"
	"github.com/rgehrsitz/annuity/internal/domain"
	"github.com/rgehrsitz/annuity/internal/mortality"
	"github.com/rgehrsitz/annuity/internal/quote"
	"github.com/rgehrsitz/annuity/internal/tables"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	series := func(p float64) mortality.Series {
		s := mortality.Series{}
		for age := 0; age < domain.MaxTabledAge; age++ {
			s[age] = p
		}
		return s
	}
	table, err := mortality.NewTable(map[mortality.Key]mortality.Series{
		{Category: domain.Normal, Sex: domain.Male}:     series(0.95),
		{Category: domain.Normal, Sex: domain.Female}:   series(0.97),
		{Category: domain.Disabled, Sex: domain.Male}:   series(0.90),
		{Category: domain.Disabled, Sex: domain.Female}: series(0.92),
	})
	require.NoError(t, err)
	rates, err := tables.NewSalesRates([]tables.SalesRate{{Insurer: domain.DefaultInsurer, OldAge: 0.0325, Disability: 0.0307}})
	require.NoError(t, err)
	return New(quote.NewEngine(&tables.Snapshot{Mortality: table, SalesRates: rates}), nil)
}

func perform(s *Server, method, path, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	req.Header.SetContentType("application/json")
	req.SetBodyString(body)

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.Handler()(&ctx)
	return &ctx
}

func decodeError(t *testing.T, ctx *fasthttp.RequestCtx) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	return resp
}

const quoteBody = `{
  "affiliate": {"pension_type": "old_age", "age": 65, "sex": "male", "balance_uf": 3000},
  "spouse": {"age": 62, "sex": "female"},
  "pricing": {
    "programmed_rate": 0.0391,
    "annuity_discount": {"mode": "flat", "rate": 0.0341},
    "intermediation_commission": 0.02,
    "afp": "habitat",
    "uf_value_clp": 39000
  },
  "scenarios": [
    {"name": "rp", "kind": "programmed_withdrawal"},
    {"name": "simple", "kind": "annuity"}
  ]
}`

func TestHealthz(t *testing.T) {
	ctx := perform(testServer(t), fasthttp.MethodGet, "/healthz", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))
}

func TestQuote(t *testing.T) {
	ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/quote", quoteBody)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	var report quote.Report
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &report))
	require.Len(t, report.Results, 2)
	assert.Equal(t, "rp", report.Results[0].Scenario)
	assert.Equal(t, "simple", report.Results[1].Scenario)
	assert.Greater(t, report.Results[1].Factor, 0.0)
	assert.Equal(t, domain.PensionOldAge, report.PensionType)
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		status int
		msg    string
	}{
		{"bad json", fasthttp.MethodPost, `{"affiliate":`, fasthttp.StatusBadRequest, "invalid request body"},
		{"validation", fasthttp.MethodPost, strings.Replace(quoteBody, `"balance_uf": 3000`, `"balance_uf": 0`, 1), fasthttp.StatusBadRequest, "affiliate.balance_uf"},
		{"curve unavailable", fasthttp.MethodPost, strings.Replace(quoteBody, `"mode": "flat"`, `"mode": "curve"`, 1), fasthttp.StatusBadRequest, quote.ErrCurveUnavailable.Error()},
		{"wrong method", fasthttp.MethodGet, "", fasthttp.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := perform(testServer(t), tt.method, "/v1/quote", tt.body)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
			resp := decodeError(t, ctx)
			assert.Equal(t, tt.status, resp.Status)
			assert.Contains(t, resp.Message, tt.msg)
		})
	}
}

func TestQuote_SurvivorWithoutEligibleDependent(t *testing.T) {
	body := `{
  "affiliate": {"pension_type": "survivor", "sex": "male", "balance_uf": 3000, "reference_pension_uf": 20},
  "children": [{"age": 18, "sex": "female", "age_limit": 18}],
  "pricing": {"programmed_rate": 0.0391, "annuity_discount": {"mode": "flat", "rate": 0.0341}, "uf_value_clp": 39000}
}`
	ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/quote", body)
	assert.Equal(t, fasthttp.StatusUnprocessableEntity, ctx.Response.StatusCode())
}

func TestFactors(t *testing.T) {
	body := `{
  "primary": {"age": 65, "sex": "male"},
  "spouse": {"age": 62, "sex": "female", "share": 0.6},
  "discount": {"mode": "flat", "rate": 0.0341},
  "shape": {"guarantee_years": 10},
  "schedule": true
}`
	ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/factors", body)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var resp FactorsResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Greater(t, resp.Total, 0.0)
	assert.InDelta(t, resp.Factors.Total(), resp.Total, 1e-12)
	assert.Equal(t, "flat 3.4100%", resp.Discount)
	require.NotEmpty(t, resp.Schedule)

	var sum float64
	for _, p := range resp.Schedule {
		sum += p.PresentValue
	}
	assert.InDelta(t, resp.Total, sum, 1e-9)
}

func TestFactors_SalesRate(t *testing.T) {
	tests := []struct {
		pension string
		want    string
	}{
		{"", "flat 3.2500% (Media Mercado, old-age sales rate)"},
		{"disability", "flat 3.0700% (Media Mercado, disability sales rate)"},
	}
	for _, tt := range tests {
		t.Run("pension "+tt.pension, func(t *testing.T) {
			body := `{"primary": {"age": 65, "sex": "male"}, "discount": {"mode": "sales_rate"}, "pension_type": "` + tt.pension + `"}`
			ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/factors", body)
			require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

			var resp FactorsResponse
			require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
			assert.Equal(t, tt.want, resp.Discount)
		})
	}
}

func TestFactors_Survivor(t *testing.T) {
	body := `{
  "kind": "survivor",
  "spouse": {"age": 60, "sex": "female", "share": 0.6},
  "discount": {"rate": 0.03}
}`
	ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/factors", body)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), string(ctx.Response.Body()))

	var resp FactorsResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Zero(t, resp.Factors.Temporal)
	assert.Greater(t, resp.Factors.Deferred, 0.0)
	assert.Empty(t, resp.Schedule)
}

func TestFactors_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing primary", `{"discount": {"rate": 0.03}}`},
		{"unknown kind", `{"kind": "tontine", "discount": {"rate": 0.03}}`},
		{"unknown mode", `{"primary": {"age": 65}, "discount": {"mode": "spline"}}`},
		{"unknown insurer", `{"primary": {"age": 65}, "discount": {"mode": "sales_rate", "insurer": "Nowhere Life"}}`},
		{"negative guarantee", `{"primary": {"age": 65}, "discount": {"rate": 0.03}, "shape": {"guarantee_years": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := perform(testServer(t), fasthttp.MethodPost, "/v1/factors", tt.body)
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode(), string(ctx.Response.Body()))
		})
	}
}

func TestNotFound(t *testing.T) {
	ctx := perform(testServer(t), fasthttp.MethodGet, "/v2/nothing", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestMetricsEndpoint_UnknownPathsShareOneLabel(t *testing.T) {
	s := testServer(t)
	for _, path := range []string{"/v2/nothing", "/admin", "/v1/quote/extra"} {
		perform(s, fasthttp.MethodGet, path, "")
	}

	body := string(perform(s, fasthttp.MethodGet, "/metrics", "").Response.Body())
	assert.Contains(t, body, `annuity_http_requests_total{path="other",status="404"} 3`)
	assert.NotContains(t, body, "/v2/nothing")
	assert.NotContains(t, body, "/admin")
	assert.NotContains(t, body, "/v1/quote/extra")
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t)
	perform(s, fasthttp.MethodPost, "/v1/quote", quoteBody)
	perform(s, fasthttp.MethodGet, "/healthz", "")

	ctx := perform(s, fasthttp.MethodGet, "/metrics", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := string(ctx.Response.Body())
	assert.Contains(t, body, `annuity_http_requests_total{path="/v1/quote",status="200"} 1`)
	assert.Contains(t, body, `annuity_http_requests_total{path="/healthz",status="200"} 1`)
	assert.Contains(t, body, `annuity_scenario_duration_seconds_count{kind="annuity"} 1`)
	assert.Contains(t, body, `annuity_scenario_duration_seconds_count{kind="programmed_withdrawal"} 1`)
}

func TestStatusFor(t *testing.T) {
	_, err := config.NewInputParser().Parse([]byte("affiliate: {}"))
	require.Error(t, err)

	tests := []struct {
		err  error
		want int
	}{
		{err, fasthttp.StatusBadRequest},
		{actuarial.ErrInvalidInput, fasthttp.StatusBadRequest},
		{quote.ErrNoBeneficiaries, fasthttp.StatusBadRequest},
		{quote.ErrSalesRatesUnavailable, fasthttp.StatusBadRequest},
		{conversion.ErrDegenerateFactor, fasthttp.StatusUnprocessableEntity},
		{quote.ErrNotEligible, fasthttp.StatusUnprocessableEntity},
		{assert.AnError, fasthttp.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
