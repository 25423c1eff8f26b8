package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"pdf_gateway/internal/config"
	"pdf_gateway/internal/utils"
)

// ColorProfile is the per-page ink coverage reported by Ghostscript's
// inkcov device. Values are fractions in [0, 1].
type ColorProfile struct {
	Page int64   `json:"page"`
	C    float64 `json:"c"`
	M    float64 `json:"m"`
	Y    float64 `json:"y"`
	K    float64 `json:"k"`
	Type string  `json:"type"`
}

// Analysis is the preflight report for an uploaded document.
type Analysis struct {
	FileName      string         `json:"file_name"`
	PageCount     int64          `json:"page_count"`
	HasFormFields bool           `json:"has_formfields"`
	ColorProfiles []ColorProfile `json:"colorProfiles"`
}

// Tools shells out to the external PDF binaries. All invocations share
// the configured command timeout; a hung rasterizer is killed rather
// than holding an executor slot forever.
type Tools struct {
	cfg    config.ProcessingConfig
	logger *utils.Logger

	pdfinfoFallbackOnce sync.Once
}

// NewTools creates a tool runner from the processing configuration.
func NewTools(cfg config.ProcessingConfig) *Tools {
	return &Tools{
		cfg:    cfg,
		logger: utils.NewLogger("pdf"),
	}
}

// runCommand executes the program with the shared timeout and returns
// its stdout and stderr. On a non-zero exit the error carries whichever
// stream had something useful to say.
func (t *Tools) runCommand(ctx context.Context, program string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	if t.cfg.LogStageTimings {
		t.logger.Info("stage timing",
			"program", program, "duration_ms", time.Since(started).Milliseconds())
	}
	outStr := stdout.String()
	errStr := stderr.String()

	if ctx.Err() == context.DeadlineExceeded {
		return outStr, errStr, fmt.Errorf("%s timed out after %s", program, t.cfg.CommandTimeout)
	}
	if err != nil {
		reason := strings.TrimSpace(errStr)
		if reason == "" {
			reason = strings.TrimSpace(outStr)
		}
		if reason == "" {
			reason = fmt.Sprintf("%s failed: %v", program, err)
		}
		return outStr, errStr, fmt.Errorf("%s", reason)
	}

	return outStr, errStr, nil
}

// hasFormFields scans the raw bytes for the AcroForm widget marker. A
// second Ghostscript pass with annotation dumping can hang on some
// documents; the byte scan is fast and good enough for this signal.
func (t *Tools) hasFormFields(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		t.logger.Warn("failed to read PDF for form-field detection", "error", err)
		return false
	}
	return bytes.Contains(data, []byte("/Subtype /Widget"))
}
