package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/config"
	"pdf_gateway/internal/executor"
	"pdf_gateway/internal/jobs"
	"pdf_gateway/internal/logging"
	"pdf_gateway/internal/middleware"
	"pdf_gateway/internal/models"
	"pdf_gateway/internal/pdf"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/quota"
	"pdf_gateway/internal/ratelimit"
	"pdf_gateway/internal/utils"
)

// stubProcessor fakes the PDF toolchain so handlers can run without
// Ghostscript installed. Setting pageCountHold makes PageCount block
// until the channel closes, recording how many calls overlap.
type stubProcessor struct {
	pageCount    int64
	pageCountErr error
	analyzeErr   error
	convertErr   error

	pageCountHold   chan struct{}
	pageCountActive int32
	pageCountPeak   int32
}

func (s *stubProcessor) PageCount(ctx context.Context, path string) (int64, error) {
	if s.pageCountHold != nil {
		active := atomic.AddInt32(&s.pageCountActive, 1)
		for {
			peak := atomic.LoadInt32(&s.pageCountPeak)
			if active <= peak || atomic.CompareAndSwapInt32(&s.pageCountPeak, peak, active) {
				break
			}
		}
		<-s.pageCountHold
		atomic.AddInt32(&s.pageCountActive, -1)
	}
	return s.pageCount, s.pageCountErr
}

func (s *stubProcessor) Analyze(ctx context.Context, path string, pageCount int64) (*pdf.Analysis, error) {
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	if pageCount <= 0 {
		pageCount = s.pageCount
	}
	profiles := make([]pdf.ColorProfile, pageCount)
	for i := range profiles {
		profiles[i] = pdf.ColorProfile{Page: int64(i) + 1, K: 0.1, Type: "CMYK OK"}
	}
	return &pdf.Analysis{
		FileName:      "stub.pdf",
		PageCount:     pageCount,
		ColorProfiles: profiles,
	}, nil
}

func (s *stubProcessor) convert(outputPath string) error {
	if s.convertErr != nil {
		return s.convertErr
	}
	return os.WriteFile(outputPath, []byte("%PDF-1.4 gray"), 0o644)
}

func (s *stubProcessor) GrayscalePreview(ctx context.Context, in, out string) error {
	return s.convert(out)
}

func (s *stubProcessor) GrayscaleProduction(ctx context.Context, in, out string) error {
	return s.convert(out)
}

func (s *stubProcessor) GrayscaleMuPDF(ctx context.Context, in, out string) error {
	return s.convert(out)
}

type testEnv struct {
	mux    *http.ServeMux
	deps   *Dependencies
	store  *quota.MemoryStore
	keys   *auth.InMemoryAPIKeyStore
	stub   *stubProcessor
	secret []byte
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		HTTPPort:      "0",
		SessionSecret: []byte("test-session-secret"),
		Processing: config.ProcessingConfig{
			Concurrency:    2,
			ReservationTTL: 10 * time.Minute,
			GhostscriptBin: "gs",
		},
		Upload: config.UploadConfig{
			PreflightMaxBytes: 5 * 1024 * 1024,
			ProcessMaxBytes:   20 * 1024 * 1024,
		},
		RateLimit: config.RateLimitConfig{
			Window:    15 * time.Minute,
			TestLimit: 5,
			APILimit:  100,
		},
	}

	store := quota.NewMemoryStore()
	ledger := quota.NewLedger(plans.DefaultCatalog(), store, store)
	exec, err := executor.New(cfg.Processing.Concurrency, false)
	require.NoError(t, err)

	keys := auth.NewInMemoryAPIKeyStore()
	stub := &stubProcessor{pageCount: 3}

	deps := &Dependencies{
		Config:       cfg,
		APIKeys:      keys,
		Catalog:      plans.DefaultCatalog(),
		Ledger:       ledger,
		Orchestrator: jobs.NewOrchestrator(ledger, exec),
		Tools:        stub,
		Audit:        logging.NewNoopSink(),
		logger:       utils.NewLogger("httpapi-test"),
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, ratelimit.NoopLimiter{})

	return &testEnv{
		mux:    mux,
		deps:   deps,
		store:  store,
		keys:   keys,
		stub:   stub,
		secret: cfg.SessionSecret,
	}
}

func (e *testEnv) sessionToken(t *testing.T, account string) string {
	t.Helper()
	token, _, err := auth.GenerateSessionToken(account, e.secret)
	require.NoError(t, err)
	return token
}

func (e *testEnv) apiKeyFor(t *testing.T, account string) string {
	t.Helper()
	plaintext, id, secret, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashSecret(secret)
	require.NoError(t, err)
	require.NoError(t, e.keys.Insert(context.Background(), &models.APIKey{
		ID:         id,
		Account:    account,
		Name:       "test",
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}))
	return plaintext
}

func pdfUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "invoice.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 test content"))
	require.NoError(t, err)

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	require.NoError(t, writer.Close())

	return &body, writer.FormDataContentType()
}

func monthPrefix() string {
	return time.Now().UTC().Format("2006-01")
}

func TestTestDocument_Anonymous(t *testing.T) {
	env := setupEnv(t)

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/process/preflight-test", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var analysis pdf.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &analysis))
	assert.Equal(t, "invoice.pdf", analysis.FileName)
	assert.Equal(t, int64(3), analysis.PageCount)
	assert.Len(t, analysis.ColorProfiles, 3)

	// Anonymous preflight consumes no quota.
	total, err := env.store.SumUsageForMonth(context.Background(), "anonymous", monthPrefix())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestPreflight_ChargesTwoUnitsPerPage(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/process/preflight", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	total, err := env.store.SumUsageForMonth(context.Background(), "acct-1", monthPrefix())
	require.NoError(t, err)
	assert.Equal(t, int64(6), total, "3 pages at 2 units each")
}

func TestPreflight_QuotaExceeded(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	// Free plan allows 400 units; leave room for less than 6.
	require.NoError(t, env.store.AddCommittedUnits(
		context.Background(), "acct-1", monthPrefix()+"-01", 396))

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/process/preflight", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var payload quotaExceededBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Monthly quota exceeded.", payload.Error)
	assert.Equal(t, "free", payload.Plan)
	require.NotNil(t, payload.MonthlyQuota)
	assert.Equal(t, int64(400), *payload.MonthlyQuota)
	assert.Equal(t, int64(396), payload.UnitsThisMonth)
	assert.Equal(t, int64(6), payload.UnitsRequested)
}

func TestPreflight_RequiresSession(t *testing.T) {
	env := setupEnv(t)

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/process/preflight", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPreflight_ToolFailureReleasesQuota(t *testing.T) {
	env := setupEnv(t)
	env.stub.analyzeErr = errors.New("rasterizer crashed")
	token := env.sessionToken(t, "acct-1")

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/process/preflight", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	total, err := env.store.SumUsageForMonth(context.Background(), "acct-1", monthPrefix())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total, "failed jobs must not consume quota")
}

func TestPreflight_PageCountHonorsAdmissionCeiling(t *testing.T) {
	env := setupEnv(t)
	env.stub.pageCountHold = make(chan struct{})
	token := env.sessionToken(t, "acct-1")
	limit := env.deps.Config.Processing.Concurrency

	const requests = 5
	recs := make([]*httptest.ResponseRecorder, requests)
	reqs := make([]*http.Request, requests)
	for i := range reqs {
		body, contentType := pdfUpload(t, nil)
		reqs[i] = httptest.NewRequest(http.MethodPost, "/process/preflight", body)
		reqs[i].Header.Set("Content-Type", contentType)
		reqs[i].Header.Set("Authorization", "Bearer "+token)
		recs[i] = httptest.NewRecorder()
	}

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env.mux.ServeHTTP(recs[i], reqs[i])
		}(i)
	}

	// Both slots fill, the remaining probes queue behind them.
	require.Eventually(t, func() bool {
		return int(atomic.LoadInt32(&env.stub.pageCountActive)) == limit
	}, time.Second, 5*time.Millisecond)
	// Give any unadmitted probe a chance to overrun before releasing.
	time.Sleep(50 * time.Millisecond)
	close(env.stub.pageCountHold)
	wg.Wait()

	assert.LessOrEqual(t, int(atomic.LoadInt32(&env.stub.pageCountPeak)), limit,
		"external page-count probes exceeded the executor ceiling")
	for _, rec := range recs {
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGrayscale_ReturnsAttachment(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	body, contentType := pdfUpload(t, map[string]string{"mode": "production"})
	req := httptest.NewRequest(http.MethodPost, "/process/grayscale", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "invoice-grayscale.pdf")
	assert.NotEmpty(t, rec.Body.Bytes())

	// One unit per page for grayscale.
	total, err := env.store.SumUsageForMonth(context.Background(), "acct-1", monthPrefix())
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestGrayscale_InvalidMode(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	body, contentType := pdfUpload(t, map[string]string{"mode": "sepia"})
	req := httptest.NewRequest(http.MethodPost, "/process/grayscale", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIProcess_AuthenticatesWithKey(t *testing.T) {
	env := setupEnv(t)
	plaintext := env.apiKeyFor(t, "acct-api")

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process/analyze", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", plaintext)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	total, err := env.store.SumUsageForMonth(context.Background(), "acct-api", monthPrefix())
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestAPIProcess_RejectsBadKey(t *testing.T) {
	env := setupEnv(t)

	body, contentType := pdfUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process/analyze", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "pdfk_nope_nope")
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsage_Summary(t *testing.T) {
	env := setupEnv(t)
	env.store.SetSubscription("acct-1", "starter", "active")
	require.NoError(t, env.store.AddCommittedUnits(
		context.Background(), "acct-1", monthPrefix()+"-02", 120))
	token := env.sessionToken(t, "acct-1")

	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary quota.UsageSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "starter", summary.Plan)
	assert.Equal(t, int64(120), summary.UnitsThisMonth)
	require.NotNil(t, summary.RemainingUnits)
	assert.Equal(t, int64(4880), *summary.RemainingUnits)
}

func TestSubscription_DefaultsToFree(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-new")

	req := httptest.NewRequest(http.MethodGet, "/api/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "free", payload["plan"])
	assert.Equal(t, "none", payload["status"])
}

func TestAPIKeys_Lifecycle(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	// Create.
	createBody, err := json.Marshal(CreateAPIKeyRequest{Name: "ci key"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/keys", bytes.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created APIKeyCreatedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "ci key", created.Name)
	assert.Contains(t, created.Key, "pdfk_")

	// The fresh key authenticates.
	record, err := env.keys.Lookup(context.Background(), created.Key)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", record.Account)

	// List.
	req = httptest.NewRequest(http.MethodGet, "/api/keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var keys []models.APIKey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].SecretHash, "secret hash must never serialize")

	// Delete, then the key stops working.
	req = httptest.NewRequest(http.MethodDelete, "/api/keys/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.keys.Lookup(context.Background(), created.Key)
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestAPIKeys_DeleteForeignKey(t *testing.T) {
	env := setupEnv(t)
	env.apiKeyFor(t, "owner")

	keys, err := env.keys.ListForAccount(context.Background(), "owner")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	token := env.sessionToken(t, "intruder")
	req := httptest.NewRequest(http.MethodDelete, "/api/keys/"+keys[0].ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_Errors(t *testing.T) {
	env := setupEnv(t)
	token := env.sessionToken(t, "acct-1")

	t.Run("missing file", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("mode", "preview"))
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/process/preflight", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		env.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-pdf file", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "notes.txt")
		require.NoError(t, err)
		_, err = part.Write([]byte("plain text"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/process/preflight", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		env.mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized file", func(t *testing.T) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "big.pdf")
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte("x"), 100))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/process/preflight", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = req.WithContext(context.WithValue(req.Context(), middleware.AccountKey, "acct-1"))
		rec := httptest.NewRecorder()

		// Handler built with a 10 byte cap so the 100 byte part trips it.
		env.deps.preflightHandler(10).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
