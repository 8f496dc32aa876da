package handoff

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// scratchIgnorePatterns names the workspace-local scratch paths an agent
// session may touch that never belong in the "files changed" set handed
// from one agent to the next — grounded on the teacher's go-gitignore
// compilation (internal/engine's ignore-pattern matcher, re-cinq-detergent),
// generalized here from "should this whole changeset be skipped" to
// "strip scratch paths out of this changeset" for handoff context
// assembly (spec.md §4.7 step 2).
var scratchIgnorePatterns = []string{".devos/", ".claude/", ".git/"}

var scratchMatcher = ignore.CompileIgnoreLines(scratchIgnorePatterns...)

// filterScratchFiles drops any path matching scratchMatcher from files,
// preserving order, so Dev's filesCreated/filesModified lists never carry
// agent scratch-space noise into QA's or DevOps's context.
func filterScratchFiles(files []string) []string {
	if scratchMatcher == nil || len(files) == 0 {
		return files
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		if !scratchMatcher.MatchesPath(f) {
			out = append(out, f)
		}
	}
	return out
}

// asStringSlice coerces a handoff result field decoded from JSON
// ([]interface{}) or set in-process ([]string) into a plain []string.
func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
