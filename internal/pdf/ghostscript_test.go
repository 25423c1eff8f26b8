package pdf

import (
	"strings"
	"testing"
)

func TestParseInkcovProfiles(t *testing.T) {
	output := ` 0.00000  0.00000  0.00000  0.02230 CMYK OK
 0.11044  0.05327  0.04090  0.06954 CMYK OK
 0.00000  0.00000  0.00000  0.00000 CMYK OK
`

	profiles := parseInkcovProfiles(output, 3)
	if len(profiles) != 3 {
		t.Fatalf("parsed %d profiles, want 3", len(profiles))
	}

	first := profiles[0]
	if first.Page != 1 || first.K != 0.0223 {
		t.Errorf("first profile = %+v, want page 1 k=0.0223", first)
	}
	if first.Type != "CMYK OK" {
		t.Errorf("first profile type = %q, want %q", first.Type, "CMYK OK")
	}

	second := profiles[1]
	if second.C != 0.11044 || second.M != 0.05327 || second.Y != 0.0409 {
		t.Errorf("second profile = %+v", second)
	}
}

func TestParseInkcovProfiles_StopsAtPageCount(t *testing.T) {
	output := ` 0.1 0.1 0.1 0.1 CMYK OK
 0.2 0.2 0.2 0.2 CMYK OK
 0.3 0.3 0.3 0.3 CMYK OK
`

	profiles := parseInkcovProfiles(output, 2)
	if len(profiles) != 2 {
		t.Fatalf("parsed %d profiles, want 2", len(profiles))
	}
}

func TestParseInkcovProfiles_IgnoresNoise(t *testing.T) {
	output := `GPL Ghostscript 10.02.1 (2023-11-01)
Processing pages 1 through 1.
Page 1
 0.04000  0.00000  0.00000  0.10000 CMYK OK
`

	profiles := parseInkcovProfiles(output, 1)
	if len(profiles) != 1 {
		t.Fatalf("parsed %d profiles, want 1", len(profiles))
	}
	if profiles[0].C != 0.04 || profiles[0].K != 0.1 {
		t.Errorf("profile = %+v", profiles[0])
	}
}

func TestParseInkcovLine_DecimalComma(t *testing.T) {
	c, m, y, k, inkType, ok := parseInkcovLine(" 0,04000  0,00000  0,00000  0,10000 CMYK OK")
	if !ok {
		t.Fatal("line did not parse")
	}
	if c != 0.04 || m != 0 || y != 0 || k != 0.1 {
		t.Errorf("parsed (%v, %v, %v, %v)", c, m, y, k)
	}
	if inkType != "CMYK OK" {
		t.Errorf("ink type = %q", inkType)
	}
}

func TestParseInkcovLine_RejectsShortLines(t *testing.T) {
	for _, line := range []string{"", "Page 1", "0.1 0.2 0.3", "only words here at all"} {
		if _, _, _, _, _, ok := parseInkcovLine(line); ok {
			t.Errorf("line %q should not parse", line)
		}
	}
}

func TestNormalizeProfiles(t *testing.T) {
	short := []ColorProfile{{Page: 7, K: 0.5}}

	normalized := normalizeProfiles(short, 3)
	if len(normalized) != 3 {
		t.Fatalf("normalized to %d profiles, want 3", len(normalized))
	}
	for i, profile := range normalized {
		if profile.Page != int64(i)+1 {
			t.Errorf("profile %d has page %d", i, profile.Page)
		}
	}
	if normalized[0].K != 0.5 {
		t.Errorf("existing coverage lost: %+v", normalized[0])
	}
	if normalized[2].K != 0 {
		t.Errorf("padding should be zero coverage: %+v", normalized[2])
	}

	long := []ColorProfile{{Page: 1}, {Page: 2}, {Page: 3}}
	if got := normalizeProfiles(long, 2); len(got) != 2 {
		t.Errorf("normalized to %d profiles, want 2", len(got))
	}
}

func TestBlackThreshold(t *testing.T) {
	l35, c20 := 35.0, 20.0

	if got := blackThreshold(nil, nil); got != 0 {
		t.Errorf("no thresholds: %v, want 0", got)
	}
	if got := blackThreshold(&l35, nil); got != 0.35 {
		t.Errorf("lightness only: %v, want 0.35", got)
	}
	if got := blackThreshold(&l35, &c20); got != 0.35*0.8 {
		t.Errorf("with chroma: %v, want %v", got, 0.35*0.8)
	}
}

func TestSanitizeBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report_pdf"},
		{"Quarterly Report (final)", "Quarterly_Report_final"},
		{"___weird___", "weird"},
		{"", "document"},
		{"!!!", "document"},
		{"already-safe_name", "already-safe_name"},
	}

	for _, tt := range tests {
		if got := SanitizeBaseName(tt.in); got != tt.want {
			t.Errorf("SanitizeBaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeBaseName(strings.Repeat("a", 200))
	if len(long) != 80 {
		t.Errorf("long name truncated to %d runes, want 80", len(long))
	}
}
