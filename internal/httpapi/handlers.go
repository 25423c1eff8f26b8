package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/config"
	"pdf_gateway/internal/executor"
	"pdf_gateway/internal/jobs"
	"pdf_gateway/internal/logging"
	"pdf_gateway/internal/middleware"
	"pdf_gateway/internal/pdf"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/quota"
	"pdf_gateway/internal/storage"
	"pdf_gateway/internal/utils"
)

// Processor is the slice of the PDF toolchain the handlers consume.
// *pdf.Tools satisfies it; tests substitute a stub so handler logic can
// be exercised without Ghostscript installed.
type Processor interface {
	PageCount(ctx context.Context, path string) (int64, error)
	Analyze(ctx context.Context, path string, pageCount int64) (*pdf.Analysis, error)
	GrayscalePreview(ctx context.Context, inputPath, outputPath string) error
	GrayscaleProduction(ctx context.Context, inputPath, outputPath string) error
	GrayscaleMuPDF(ctx context.Context, inputPath, outputPath string) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Config       *config.Config
	DB           *storage.DB
	APIKeys      auth.APIKeyStore
	Catalog      *plans.Catalog
	Ledger       *quota.Ledger
	Orchestrator *jobs.Orchestrator
	Tools        Processor
	Audit        logging.Sink

	logger *utils.Logger
}

// quotaExceededBody is the 402 payload for denied reservations.
type quotaExceededBody struct {
	Error          string `json:"error"`
	Plan           string `json:"plan"`
	MonthlyQuota   *int64 `json:"monthlyQuota"`
	UnitsThisMonth int64  `json:"unitsThisMonth"`
	PendingUnits   int64  `json:"pendingUnits"`
	UnitsRequested int64  `json:"unitsRequested"`
}

func respondQuotaExceeded(w http.ResponseWriter, quotaErr *jobs.QuotaExceededError) {
	utils.RespondWithJSON(w, http.StatusPaymentRequired, quotaExceededBody{
		Error:          "Monthly quota exceeded.",
		Plan:           quotaErr.Plan,
		MonthlyQuota:   quotaErr.MonthlyQuota,
		UnitsThisMonth: quotaErr.UnitsThisMonth,
		PendingUnits:   quotaErr.PendingUnits,
		UnitsRequested: quotaErr.UnitsRequested,
	})
}

// handleHealth probes the database, and Ghostscript when a toolchain is
// configured. Redis health is implied by the limiter soft-failing.
func (deps *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if deps.DB != nil {
		if err := deps.DB.Health(r.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	gsBin := deps.Config.Processing.GhostscriptBin
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, gsBin, "-v").Output(); err != nil {
		checks["ghostscript"] = err.Error()
		healthy = false
	} else {
		checks["ghostscript"] = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	utils.RespondWithJSON(w, status, map[string]any{"status": state, "checks": checks})
}

// handleTestDocument is the anonymous preflight used by the landing
// page demo. No quota is consumed; the per-IP rate limit is the only
// brake on it.
func (deps *Dependencies) handleTestDocument(w http.ResponseWriter, r *http.Request) {
	upload, err := saveUpload(r, deps.Config.Upload.PreflightMaxBytes)
	if err != nil {
		respondUploadError(w, err)
		return
	}
	defer removeFileIfExists(upload.TempPath)

	analysis, err := jobs.Process(r.Context(), deps.Orchestrator, "anonymous", "preflight-test", 0,
		func(ctx context.Context) (*pdf.Analysis, error) {
			return deps.Tools.Analyze(ctx, upload.TempPath, 0)
		})
	if err != nil {
		deps.logger.Error("failed to analyze PDF", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to analyze PDF")
		return
	}

	analysis.FileName = upload.OriginalName
	utils.RespondWithJSON(w, http.StatusOK, analysis)
}

// preflightHandler analyzes a document for the authenticated account,
// charging two units per page. The byte cap differs per route: the
// dashboard keeps the small demo cap, the API allows full-size files.
func (deps *Dependencies) preflightHandler(maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.runPreflight(w, r, maxBytes)
	}
}

func (deps *Dependencies) runPreflight(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	upload, err := saveUpload(r, maxBytes)
	if err != nil {
		respondUploadError(w, err)
		return
	}
	defer removeFileIfExists(upload.TempPath)

	started := time.Now()

	// The probe shells out to pdfinfo or Ghostscript, so it takes an
	// executor slot like any other external job.
	pageCount, err := executor.Run(r.Context(), deps.Orchestrator.Executor(), "preflight-page-count",
		func(ctx context.Context) (int64, error) {
			return deps.Tools.PageCount(ctx, upload.TempPath)
		})
	if err != nil {
		deps.logger.Error("failed to get page count for preflight", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read PDF")
		return
	}
	units := pageCount * 2

	analysis, err := jobs.Process(r.Context(), deps.Orchestrator, account, "preflight", units,
		func(ctx context.Context) (*pdf.Analysis, error) {
			return deps.Tools.Analyze(ctx, upload.TempPath, pageCount)
		})
	if err != nil {
		var quotaErr *jobs.QuotaExceededError
		if errors.As(err, &quotaErr) {
			respondQuotaExceeded(w, quotaErr)
			return
		}
		deps.logger.Error("preflight failed", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to analyze PDF")
		return
	}

	analysis.FileName = upload.OriginalName
	deps.audit(r, &logging.DocumentLog{
		Account:   account,
		Operation: "preflight",
		FileName:  analysis.FileName,
		PageCount: pageCount,
		Units:     units,
		BytesIn:   upload.Size,
		ProcessMs: time.Since(started).Milliseconds(),
	})

	utils.RespondWithJSON(w, http.StatusOK, analysis)
}

// parseGrayscaleMode accepts "", "preview", and "production".
func parseGrayscaleMode(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "", "preview":
		return "preview", nil
	case "production":
		return "production", nil
	default:
		return "", fmt.Errorf(`Invalid mode. Use "preview" or "production".`)
	}
}

// parseGrayscaleEngine accepts "", "gs", and "mupdf".
func parseGrayscaleEngine(raw string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "", "gs", "ghostscript":
		return "gs", nil
	case "mupdf", "mutool":
		return "mupdf", nil
	default:
		return "", fmt.Errorf(`Invalid engine. Use "gs" or "mupdf".`)
	}
}

// handleGrayscale converts the document, charging one unit per page.
// The output PDF streams back as an attachment.
func (deps *Dependencies) handleGrayscale(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	upload, err := saveUpload(r, deps.Config.Upload.ProcessMaxBytes)
	if err != nil {
		respondUploadError(w, err)
		return
	}
	defer removeFileIfExists(upload.TempPath)

	mode, err := parseGrayscaleMode(upload.Mode)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	engine, err := parseGrayscaleEngine(upload.Engine)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now()

	pageCount, err := executor.Run(r.Context(), deps.Orchestrator.Executor(), "grayscale-page-count",
		func(ctx context.Context) (int64, error) {
			return deps.Tools.PageCount(ctx, upload.TempPath)
		})
	if err != nil {
		deps.logger.Error("failed to get page count for grayscale", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to read PDF")
		return
	}

	baseName := pdf.SanitizeBaseName(strings.TrimSuffix(upload.OriginalName, filepath.Ext(upload.OriginalName)))
	outputPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%s-grayscale.pdf", baseName, uuid.NewString()))
	defer removeFileIfExists(outputPath)

	_, err = jobs.Process(r.Context(), deps.Orchestrator, account, "grayscale", pageCount,
		func(ctx context.Context) (struct{}, error) {
			var convErr error
			switch {
			case engine == "mupdf":
				convErr = deps.Tools.GrayscaleMuPDF(ctx, upload.TempPath, outputPath)
			case mode == "production":
				convErr = deps.Tools.GrayscaleProduction(ctx, upload.TempPath, outputPath)
			default:
				convErr = deps.Tools.GrayscalePreview(ctx, upload.TempPath, outputPath)
			}
			return struct{}{}, convErr
		})
	if err != nil {
		var quotaErr *jobs.QuotaExceededError
		if errors.As(err, &quotaErr) {
			respondQuotaExceeded(w, quotaErr)
			return
		}
		deps.logger.Error("grayscale conversion failed", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to convert PDF")
		return
	}

	output, err := os.ReadFile(outputPath)
	if err != nil {
		deps.logger.Error("failed to read grayscale output", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to send grayscale PDF")
		return
	}

	deps.audit(r, &logging.DocumentLog{
		Account:   account,
		Operation: "grayscale",
		FileName:  upload.OriginalName,
		PageCount: pageCount,
		Units:     pageCount,
		Mode:      mode,
		BytesIn:   upload.Size,
		BytesOut:  int64(len(output)),
		ProcessMs: time.Since(started).Milliseconds(),
	})

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s-grayscale.pdf"`, baseName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(output)
}

func (deps *Dependencies) audit(r *http.Request, rec *logging.DocumentLog) {
	rec.Timestamp = time.Now().UTC()
	rec.RequestID = uuid.NewString()
	if key, ok := middleware.GetAPIKeyRecord(r.Context()); ok {
		rec.APIKeyID = key.ID
	}
	if err := deps.Audit.Enqueue(rec); err != nil {
		deps.logger.Warn("failed to enqueue audit record", "error", err)
	}
}
