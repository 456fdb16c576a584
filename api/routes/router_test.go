package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/giroflow-backend/internal/distribution"
	"github.com/angelmondragon/giroflow-backend/internal/providerb"
	"github.com/angelmondragon/giroflow-backend/internal/wallet"
	pkgAuth "github.com/angelmondragon/giroflow-backend/pkg/auth"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db/models"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

const validSplit = `{"donorId":7,"causeAreas":[{"id":1,"percentageShare":"100","standardSplit":false,"organizations":[{"id":3,"percentageShare":"60"},{"id":4,"percentageShare":"40"},{"id":5,"percentageShare":"0"}]}]}`

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubDistributions struct {
	replaced []distribution.ReplaceInput
}

func (s *stubDistributions) FindOrCreate(_ context.Context, input any) (distribution.Distribution, bool, error) {
	dist, err := distribution.Validate(input)
	if err != nil {
		return distribution.Distribution{}, false, err
	}
	dist.KID = "000000700000011"
	return dist, true, nil
}

func (s *stubDistributions) ReplaceWithHistory(_ context.Context, in distribution.ReplaceInput) (string, error) {
	s.replaced = append(s.replaced, in)
	return "000000700000029", nil
}

type stubInflation struct {
	rows map[string]*models.InflationAdjustment
}

func (s *stubInflation) Lookup(_ context.Context, token string) (*models.InflationAdjustment, error) {
	row, ok := s.rows[token]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inflation adjustment not found")
	}
	return row, nil
}

func (s *stubInflation) Accept(ctx context.Context, token string) (*models.InflationAdjustment, error) {
	row, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	row.Status = enums.InflationAdjustmentStatusAccepted
	return row, nil
}

func (s *stubInflation) Reject(ctx context.Context, token string) error {
	_, err := s.Lookup(ctx, token)
	return err
}

type stubCandidates struct{}

func (stubCandidates) AmendmentCandidates(context.Context) ([]providerb.AmendmentCandidate, error) {
	return nil, nil
}

type stubJobs struct {
	ran    []string
	locked bool
}

func (s *stubJobs) RunNow(_ context.Context, name string) error {
	if s.locked {
		return pkgerrors.New(pkgerrors.CodeConflict, "job "+name+" is already running")
	}
	if name != "providera-claims" {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unknown job "+name)
	}
	s.ran = append(s.ran, name)
	return nil
}

type stubWallet struct{}

func (stubWallet) DraftAgreement(_ context.Context, in wallet.DraftInput) (wallet.DraftResult, error) {
	return wallet.DraftResult{AgreementID: "agr_1", URL: "https://wallet.test/agr_1"}, nil
}

func (stubWallet) CreateCharge(_ context.Context, agreementID string, amount decimal.Decimal, leadDays int) (string, error) {
	return "chr_1", nil
}

type harness struct {
	cfg     *config.Config
	handler http.Handler
	dists   *stubDistributions
	jobs    *stubJobs
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "giroflow", ExpirationMinutes: 30},
		HTTP: config.HTTPConfig{
			CORSOrigins:   []string{"http://localhost:3000"},
			PublicWindow:  time.Minute,
			PublicIPLimit: 30,
		},
	}
}

func newHarness(t *testing.T, walletSvc *stubWallet) *harness {
	t.Helper()
	cfg := testConfig()
	h := &harness{cfg: cfg, dists: &stubDistributions{}, jobs: &stubJobs{}}
	svc := Services{
		Distributions: h.dists,
		Inflation: &stubInflation{rows: map[string]*models.InflationAdjustment{
			"tok": {
				AgreementType:  enums.AgreementTypeProviderA,
				CurrentAmount:  30000,
				ProposedAmount: 31200,
				Status:         enums.InflationAdjustmentStatusPending,
			},
		}},
		ProviderB: stubCandidates{},
		Jobs:      h.jobs,
	}
	if walletSvc != nil {
		svc.Wallet = walletSvc
	}
	logg := logger.New(logger.Options{ServiceName: "test-routing", Output: io.Discard})
	h.handler = NewRouter(context.Background(), cfg, logg, stubPinger{}, nil, http.NotFoundHandler(), svc)
	return h
}

func (h *harness) token(t *testing.T, role pkgAuth.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(h.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{Subject: "ops@giroflow.no", Role: role})
	require.NoError(t, err)
	return token
}

func (h *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	return resp
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodGet, "/health/live", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "test", resp.Header().Get("X-Giroflow-Env"))

	resp = h.do(http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"db":"ok"`)
}

func TestHealthReadyReportsDependencyFailure(t *testing.T) {
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test-routing", Output: io.Discard})
	handler := NewRouter(context.Background(), cfg, logg, stubPinger{err: context.DeadlineExceeded}, nil, nil, Services{})

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, string(pkgerrors.CodeTransient), errorCode(t, resp))
}

func TestValidateDistribution(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodPost, "/api/v1/distributions/validate", "", validSplit)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotContains(t, resp.Body.String(), `"id":5`)

	resp = h.do(http.MethodPost, "/api/v1/distributions/validate", "", `[1,2]`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), string(distribution.ErrNotAnObject))

	resp = h.do(http.MethodPost, "/api/v1/distributions/validate", "", `{"donorId":7,"causeAreas":[{"id":1,"percentageShare":"90","organizations":[{"id":3,"percentageShare":"100"}]}]}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), string(distribution.ErrCauseAreaSumNot100))
}

func TestRegisterDistributionCreates(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodPost, "/api/v1/distributions", "", validSplit)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"kid":"000000700000011"`)
}

func TestInflationRoutes(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodGet, "/api/v1/inflation/tok", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"proposed_amount":31200`)

	resp = h.do(http.MethodPost, "/api/v1/inflation/tok/accept", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), string(enums.InflationAdjustmentStatusAccepted))

	resp = h.do(http.MethodPost, "/api/v1/inflation/missing/reject", "", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(http.MethodGet, "/api/admin/v1/providerb/amendment-candidates", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestViewerCanReadButNotRun(t *testing.T) {
	h := newHarness(t, nil)
	viewer := h.token(t, pkgAuth.RoleViewer)

	resp := h.do(http.MethodGet, "/api/admin/v1/providerb/amendment-candidates", viewer, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `"count":0`)

	resp = h.do(http.MethodPost, "/api/admin/v1/jobs/providera-claims", viewer, "")
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Empty(t, h.jobs.ran)
}

func TestAdminRunJob(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(t, pkgAuth.RoleAdmin)

	resp := h.do(http.MethodPost, "/api/admin/v1/jobs/providera-claims", admin, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, []string{"providera-claims"}, h.jobs.ran)

	resp = h.do(http.MethodPost, "/api/admin/v1/jobs/nope", admin, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	h.jobs.locked = true
	resp = h.do(http.MethodPost, "/api/admin/v1/jobs/providera-claims", admin, "")
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestAdminReplaceDistribution(t *testing.T) {
	h := newHarness(t, nil)
	admin := h.token(t, pkgAuth.RoleAdmin)

	body := `{"original_kid":"000000700000011","split":` + validSplit + `}`
	resp := h.do(http.MethodPost, "/api/admin/v1/distributions/replace", admin, body)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, h.dists.replaced, 1)
	require.Equal(t, "000000700000011", h.dists.replaced[0].OriginalKID)

	resp = h.do(http.MethodPost, "/api/admin/v1/distributions/replace", admin, `{"original_kid":"123","split":{}}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWalletRoutes(t *testing.T) {
	disabled := newHarness(t, nil)
	admin := disabled.token(t, pkgAuth.RoleAdmin)
	resp := disabled.do(http.MethodPost, "/api/admin/v1/wallet/agreements", admin, `{"kid":"000000700000011","amount":"300"}`)
	require.Equal(t, http.StatusNotFound, resp.Code)

	enabled := newHarness(t, &stubWallet{})
	admin = enabled.token(t, pkgAuth.RoleAdmin)
	resp = enabled.do(http.MethodPost, "/api/admin/v1/wallet/agreements", admin, `{"kid":"000000700000011","amount":"300"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"agreement_id":"agr_1"`)

	resp = enabled.do(http.MethodPost, "/api/admin/v1/wallet/agreements/agr_1/charges", admin, `{"amount":"250","lead_days":3}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Contains(t, resp.Body.String(), `"charge_id":"chr_1"`)

	resp = enabled.do(http.MethodPost, "/api/admin/v1/wallet/agreements/agr_1/charges", admin, `{"amount":"-1","lead_days":3}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
