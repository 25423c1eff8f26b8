package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var pdfinfoPagesRe = regexp.MustCompile(`(?m)^\s*Pages:\s+(\d+)\s*$`)

// PageCount returns the number of pages in the document. pdfinfo is
// tried first because it is much faster than spinning up a Ghostscript
// interpreter; when it is unavailable or its output is unusable, the
// count comes from Ghostscript's pdfpagecount operator.
func (t *Tools) PageCount(ctx context.Context, path string) (int64, error) {
	if count, ok := t.pageCountWithPdfinfo(ctx, path); ok {
		return count, nil
	}

	stdout, stderr, err := t.runCommand(ctx, t.cfg.GhostscriptBin,
		"-q",
		"-dNODISPLAY",
		"-dSAFER",
		"--permit-file-read="+path,
		"-c",
		fmt.Sprintf("(%s) (r) file runpdfbegin pdfpagecount = quit", path),
	)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(stdout)
	if raw == "" {
		raw = strings.TrimSpace(stderr)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || count <= 0 {
		return 0, fmt.Errorf("invalid page count reported by Ghostscript")
	}

	return count, nil
}

func (t *Tools) pageCountWithPdfinfo(ctx context.Context, path string) (int64, bool) {
	stdout, _, err := t.runCommand(ctx, t.cfg.PdfinfoBin, path)
	if err != nil {
		t.logPdfinfoFallback(err.Error())
		return 0, false
	}

	matches := pdfinfoPagesRe.FindStringSubmatch(stdout)
	if matches == nil {
		t.logPdfinfoFallback("missing Pages field in pdfinfo output")
		return 0, false
	}

	count, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || count <= 0 {
		t.logPdfinfoFallback("invalid Pages value in pdfinfo output")
		return 0, false
	}

	return count, true
}

// Logged once per process; after the first fallback there is nothing
// new to say.
func (t *Tools) logPdfinfoFallback(reason string) {
	t.pdfinfoFallbackOnce.Do(func() {
		t.logger.Info("pdfinfo page-count fast path unavailable, falling back to Ghostscript",
			"reason", reason)
	})
}

// Analyze runs the inkcov device over the document and assembles the
// preflight report. pageCount <= 0 means "count it yourself".
func (t *Tools) Analyze(ctx context.Context, path string, pageCount int64) (*Analysis, error) {
	if pageCount <= 0 {
		counted, err := t.PageCount(ctx, path)
		if err != nil {
			return nil, err
		}
		pageCount = counted
	}

	stdout, stderr, err := t.runCommand(ctx, t.cfg.GhostscriptBin,
		"-q",
		"-o", "-",
		"-dSAFER",
		"-dBATCH",
		"-dNOPAUSE",
		"-sDEVICE=inkcov",
		path,
	)
	if err != nil {
		return nil, err
	}

	// Some Ghostscript builds report coverage on stderr.
	output := stdout
	if strings.TrimSpace(stdout) == "" {
		output = stderr
	} else if strings.TrimSpace(stderr) != "" {
		output = stdout + "\n" + stderr
	}

	profiles := parseInkcovProfiles(output, pageCount)
	if int64(len(profiles)) != pageCount {
		sample := output
		if len(sample) > 600 {
			sample = sample[:600]
		}
		t.logger.Warn("inkcov output did not contain one profile per page, normalizing",
			"expected", pageCount, "parsed", len(profiles), "sample", sample)
		profiles = normalizeProfiles(profiles, pageCount)
	}

	fileName := filepath.Base(path)
	if fileName == "." || fileName == string(filepath.Separator) {
		fileName = "document.pdf"
	}

	return &Analysis{
		FileName:      fileName,
		PageCount:     pageCount,
		HasFormFields: t.hasFormFields(path),
		ColorProfiles: profiles,
	}, nil
}

// GrayscalePreview converts the document to grayscale with a plain
// pdfwrite pass. Fast, and faithful to the source's tone curve.
func (t *Tools) GrayscalePreview(ctx context.Context, inputPath, outputPath string) error {
	_, _, err := t.runCommand(ctx, t.cfg.GhostscriptBin,
		"-q",
		"-dNOPAUSE",
		"-dBATCH",
		"-dSAFER",
		"-sDEVICE=pdfwrite",
		"-sColorConversionStrategy=Gray",
		"-dProcessColorModel=/DeviceGray",
		"-sOutputFile="+outputPath,
		inputPath,
	)
	return err
}

// GrayscaleProduction converts for print: near-black text and vector
// strokes are forced to pure black so they do not come out washed-out
// on press. The optional lightness threshold widens what counts as
// near-black via a transfer function.
func (t *Tools) GrayscaleProduction(ctx context.Context, inputPath, outputPath string) error {
	gray := t.cfg.Grayscale

	args := []string{
		"-q",
		"-dNOPAUSE",
		"-dBATCH",
		"-dSAFER",
		"-sDEVICE=pdfwrite",
		"-sColorConversionStrategy=Gray",
		"-dProcessColorModel=/DeviceGray",
	}
	if gray.ForceBlackText {
		args = append(args, "-dBlackText")
	}
	if gray.ForceBlackVector {
		args = append(args, "-dBlackVectors")
	}
	args = append(args, "-sOutputFile="+outputPath)

	if threshold := blackThreshold(gray.BlackThresholdL, gray.BlackThresholdC); threshold > 0 {
		args = append(args, "-c",
			fmt.Sprintf("{ dup %.4f le { pop 0 } if } settransfer", threshold),
			"-f",
		)
	}
	args = append(args, inputPath)

	_, _, err := t.runCommand(ctx, t.cfg.GhostscriptBin, args...)
	return err
}

// blackThreshold maps the configured LAB-style lightness and chroma
// thresholds onto a single gray cutoff fraction. Chroma tightens the
// cutoff so colorful darks are not crushed.
func blackThreshold(l, c *float64) float64 {
	if l == nil {
		return 0
	}
	threshold := *l / 100
	if c != nil && *c > 0 {
		threshold *= 1 - minFloat(*c/100, 0.5)
	}
	if threshold < 0 {
		return 0
	}
	if threshold > 1 {
		return 1
	}
	return threshold
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// parseInkcovProfiles pulls one profile per inkcov line, numbering pages
// from one and stopping once the expected count is reached.
func parseInkcovProfiles(output string, pageCount int64) []ColorProfile {
	var profiles []ColorProfile
	for _, line := range strings.Split(output, "\n") {
		c, m, y, k, inkType, ok := parseInkcovLine(line)
		if !ok {
			continue
		}
		page := int64(len(profiles)) + 1
		if page > pageCount {
			break
		}
		profiles = append(profiles, ColorProfile{Page: page, C: c, M: m, Y: y, K: k, Type: inkType})
	}
	return profiles
}

// parseInkcovLine finds the last run of four floats in the line. inkcov
// output sometimes carries page prefixes before the coverage numbers,
// so the scan keeps the rightmost match and treats whatever follows it
// as the ink type label (usually "CMYK OK").
func parseInkcovLine(line string) (c, m, y, k float64, inkType string, ok bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 {
		return 0, 0, 0, 0, "", false
	}

	matchIndex := -1
	for i := 0; i+4 <= len(tokens); i++ {
		cv, okC := parseFloatToken(tokens[i])
		mv, okM := parseFloatToken(tokens[i+1])
		yv, okY := parseFloatToken(tokens[i+2])
		kv, okK := parseFloatToken(tokens[i+3])
		if okC && okM && okY && okK {
			matchIndex = i
			c, m, y, k = cv, mv, yv, kv
		}
	}
	if matchIndex < 0 {
		return 0, 0, 0, 0, "", false
	}

	if matchIndex+4 < len(tokens) {
		inkType = strings.Join(tokens[matchIndex+4:], " ")
	}
	return c, m, y, k, inkType, true
}

// parseFloatToken accepts decimal-comma output from locales where
// Ghostscript formats with commas.
func parseFloatToken(token string) (float64, bool) {
	if value, err := strconv.ParseFloat(token, 64); err == nil {
		return value, true
	}
	if strings.Contains(token, ",") && !strings.Contains(token, ".") {
		if value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64); err == nil {
			return value, true
		}
	}
	return 0, false
}

// normalizeProfiles forces the profile list to exactly pageCount
// entries with 1-based page numbers, padding with zero coverage.
func normalizeProfiles(profiles []ColorProfile, pageCount int64) []ColorProfile {
	expected := int(pageCount)
	if expected < 0 {
		expected = 0
	}

	if len(profiles) > expected {
		profiles = profiles[:expected]
	}
	for i := range profiles {
		profiles[i].Page = int64(i) + 1
	}
	for len(profiles) < expected {
		profiles = append(profiles, ColorProfile{Page: int64(len(profiles)) + 1})
	}
	return profiles
}
