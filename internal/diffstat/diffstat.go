package diffstat

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/giuliastro/opencode-remote/internal/model"
)

// Count diffs two versions of a file line by line and returns how many
// lines were added and removed.
func Count(before, after string) (additions, deletions int) {
	if before == after {
		return 0, 0
	}
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeChars, afterChars, false), lines)
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}
	return additions, deletions
}

// Fill computes per-file line counts for entries the server sent without
// them, when the file contents are available.
func Fill(files []model.DiffFile) []model.DiffFile {
	for i, f := range files {
		if f.Additions != 0 || f.Deletions != 0 {
			continue
		}
		if f.Before == "" && f.After == "" {
			continue
		}
		files[i].Additions, files[i].Deletions = Count(f.Before, f.After)
	}
	return files
}

// Summarize reduces a file diff list to totals.
func Summarize(files []model.DiffFile) model.DiffSummary {
	summary := model.DiffSummary{Files: len(files)}
	for _, f := range files {
		summary.Additions += f.Additions
		summary.Deletions += f.Deletions
	}
	return summary
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
