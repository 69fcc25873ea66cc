package cds

import (
	"regexp"
	"strconv"
	"strings"
)

// Field patterns for the admissions section of a Common Data Set document.
// Extraction is deliberately best-effort: institutions format these documents
// inconsistently, and a miss just leaves the field out of the payload.
var fieldPatterns = map[string]*regexp.Regexp{
	"applicants_total": regexp.MustCompile(`(?i)total\s+(?:first-time\s+)?(?:freshman\s+)?applicants?\D{0,40}?([\d,]{2,9})`),
	"admitted_total":   regexp.MustCompile(`(?i)total\s+(?:first-time\s+)?(?:freshman\s+)?(?:admitted|admissions?)\D{0,40}?([\d,]{2,9})`),
	"enrolled_total":   regexp.MustCompile(`(?i)total\s+(?:first-time\s+)?(?:freshman\s+)?enrolled\D{0,40}?([\d,]{2,9})`),
	"sat_composite":    regexp.MustCompile(`(?i)SAT\s+composite\D{0,30}?(\d{3,4})`),
	"act_composite":    regexp.MustCompile(`(?i)ACT\s+composite\D{0,30}?(\d{1,2})`),
}

// extractFields pulls admissions figures out of raw document bytes. It works
// on the printable text runs of the file, which is enough for text-based PDFs;
// scanned documents simply yield nothing.
func extractFields(data []byte) map[string]any {
	text := printableText(data)
	if text == "" {
		return nil
	}

	fields := make(map[string]any)
	for name, pattern := range fieldPatterns {
		m := pattern.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64); err == nil {
			fields[name] = n
		}
	}

	if a, ok := fields["applicants_total"].(int64); ok && a > 0 {
		if adm, ok := fields["admitted_total"].(int64); ok {
			fields["acceptance_rate"] = float64(adm) / float64(a)
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// printableText keeps runs of printable ASCII long enough to hold a label,
// joined by spaces so patterns can span line breaks in the source.
func printableText(data []byte) string {
	var b strings.Builder
	b.Grow(len(data) / 2)
	runLen := 0
	runStart := 0
	flush := func(end int) {
		if runLen >= 4 {
			b.Write(data[runStart:end])
			b.WriteByte(' ')
		}
		runLen = 0
	}
	for i, c := range data {
		if c >= 0x20 && c < 0x7f {
			if runLen == 0 {
				runStart = i
			}
			runLen++
			continue
		}
		flush(i)
	}
	flush(len(data))
	return b.String()
}
