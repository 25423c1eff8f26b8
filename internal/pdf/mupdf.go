package pdf

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrMuToolNotFound is returned when the mutool binary is missing.
var ErrMuToolNotFound = errors.New("mutool not found")

// GrayscaleMuPDF converts the document to grayscale with mutool's
// recolor command. MuPDF rewrites content streams rather than
// re-rasterizing, which preserves text and vector quality on documents
// Ghostscript's pdfwrite degrades.
func (t *Tools) GrayscaleMuPDF(ctx context.Context, inputPath, outputPath string) error {
	_, _, err := t.runCommand(ctx, t.cfg.MutoolBin,
		"recolor",
		"-c", "gray",
		"-o", outputPath,
		inputPath,
	)
	if err != nil && isNotFound(err) {
		return ErrMuToolNotFound
	}
	return err
}

// EnsureMuPDFRecolor verifies at startup that the installed mutool
// build ships the recolor command. Older builds silently lack it.
func (t *Tools) EnsureMuPDFRecolor(ctx context.Context) error {
	stdout, stderr, err := t.runCommand(ctx, t.cfg.MutoolBin, "recolor")
	if err != nil && isNotFound(err) {
		return ErrMuToolNotFound
	}

	// Bare "mutool recolor" prints its usage and exits non-zero; any of
	// the streams or the error text may carry it.
	combined := strings.ToLower(stdout + "\n" + stderr)
	if err != nil {
		combined += "\n" + strings.ToLower(err.Error())
	}
	if strings.Contains(combined, "usage: mutool recolor") {
		return nil
	}

	return fmt.Errorf("mutool recolor not supported: install a mutool build that includes the recolor command")
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return errors.Is(execErr.Err, exec.ErrNotFound)
	}
	return errors.Is(err, exec.ErrNotFound) ||
		strings.Contains(err.Error(), "executable file not found")
}
