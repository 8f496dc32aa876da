package gitgw

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RenderLineDiff renders a compact +/- line-level diff between two file
// contents. Grounded on zjrosen-perles's diffviewer word-diff idiom
// (internal/ui/shared/diffviewer/word_diff.go: dmp.DiffMain +
// DiffCleanupSemantic, then classifying each op as Insert/Delete/Equal),
// generalized here from word-level highlighting to a plain line-level
// rendering for QA's context assembly (spec.md §4.6.1, §4.6.2) instead of
// git's own diff output.
func RenderLineDiff(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	oldChars, newChars, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var b strings.Builder
	for _, d := range diffs {
		text := strings.TrimSuffix(d.Text, "\n")
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				fmt.Fprintf(&b, "+%s\n", line)
			case diffmatchpatch.DiffDelete:
				fmt.Fprintf(&b, "-%s\n", line)
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(&b, " %s\n", line)
			}
		}
	}
	return b.String()
}

// FileContentAt returns a file's content at a given ref, or "" with a nil
// error if the path did not exist at that ref (a newly created file).
func (r *Repo) FileContentAt(ref, path string) (string, error) {
	out, err := r.run("show", ref+":"+path)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "exists on disk, but not in") ||
			strings.Contains(msg, "does not exist in") ||
			strings.Contains(msg, "bad revision") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// RenderedDiff builds a per-file line-level diff between two refs for the
// given changed files, fed to QA's context assembly (spec.md §4.6.2) so
// the CLI session gets a compact, already-rendered diff instead of
// re-deriving one itself.
func (r *Repo) RenderedDiff(fromRef, toRef string, files []string) (string, error) {
	var b strings.Builder
	for _, f := range files {
		oldContent, err := r.FileContentAt(fromRef, f)
		if err != nil {
			return "", fmt.Errorf("reading %s at %s: %w", f, fromRef, err)
		}
		newContent, err := r.FileContentAt(toRef, f)
		if err != nil {
			return "", fmt.Errorf("reading %s at %s: %w", f, toRef, err)
		}
		fmt.Fprintf(&b, "--- %s\n", f)
		b.WriteString(RenderLineDiff(oldContent, newContent))
	}
	return b.String(), nil
}
