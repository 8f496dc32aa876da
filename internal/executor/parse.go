package executor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/devos-ai/orchestrator/internal/domain"
)

// testSummaryPatterns matches the familiar test-runner summary lines named
// in spec.md §4.6.1, tried in order against the buffered CLI output.
var testSummaryPatterns = []*regexp.Regexp{
	// "Tests: 12 passed, 2 failed, 14 total" (Jest)
	regexp.MustCompile(`Tests:\s*(\d+)\s*passed,\s*(\d+)\s*failed,\s*(\d+)\s*total`),
	// "Test 12 passed | 2 failed (14)" (Vitest-style)
	regexp.MustCompile(`Test\s*(\d+)\s*passed\s*\|\s*(\d+)\s*failed\s*\((\d+)\)`),
}

var coveragePatterns = []*regexp.Regexp{
	// "All files | 87.50%" (Istanbul table)
	regexp.MustCompile(`All files\s*\|\s*([\d.]+)%`),
	// "Statements : 87.50%"
	regexp.MustCompile(`Statements\s*:\s*([\d.]+)%`),
}

// ParseTestResults extracts a domain.TestResults from CLI output by trying
// each known summary pattern in turn. If nothing matches, the caller is
// expected to fall back to running the project's own test command; if that
// too is unparseable, a zero-filled TestResults is returned, never nil
// (spec.md §4.6.1).
func ParseTestResults(output string) (domain.TestResults, bool) {
	var results domain.TestResults
	matched := false

	for _, pattern := range testSummaryPatterns {
		m := pattern.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		passed, _ := strconv.Atoi(m[1])
		failed, _ := strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		results.Passed = passed
		results.Failed = failed
		results.Total = total
		matched = true
		break
	}

	for _, pattern := range coveragePatterns {
		m := pattern.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		pct, _ := strconv.ParseFloat(m[1], 64)
		results.CoveragePct = pct
		matched = true
		break
	}

	return results, matched
}

// jsonBlockPattern extracts a fenced ```json ... ``` block, used by the
// DevOps Executor to find the smoke-test result payload (spec.md §4.6.4).
var jsonBlockPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractJSONBlock returns the contents of the first fenced JSON block in
// output, or "" if none is present.
func ExtractJSONBlock(output string) string {
	m := jsonBlockPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
