package wiki

import (
	"strings"

	"forkwiki/pkg/types"
)

// DiffKind classifies one line of a comparison.
type DiffKind int

const (
	Unchanged DiffKind = iota
	Added
	Removed
	Modified
)

func (k DiffKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// DiffLine is one line of a comparison. Old is set for Unchanged, Removed and
// Modified lines; New for Unchanged, Added and Modified lines.
type DiffLine struct {
	Kind DiffKind
	Old  string
	New  string
}

// modifiedThreshold is the word similarity above which a removal followed by
// an addition is reported as a single modified line.
const modifiedThreshold = 0.3

// Compare diffs two pages line by line using their longest common
// subsequence.
func Compare(from, to types.PageContent) []DiffLine {
	a, b := splitLines(string(from)), splitLines(string(to))

	// lcs[i][j] is the LCS length of a[:i] and b[:j].
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				lcs[i][j] = lcs[i-1][j-1] + 1
			} else {
				lcs[i][j] = max(lcs[i-1][j], lcs[i][j-1])
			}
		}
	}

	raw := make([]DiffLine, 0, len(a)+len(b))
	i, j := len(a), len(b)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && a[i-1] == b[j-1]:
			raw = append(raw, DiffLine{Kind: Unchanged, Old: a[i-1], New: b[j-1]})
			i--
			j--
		case j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]):
			raw = append(raw, DiffLine{Kind: Added, New: b[j-1]})
			j--
		default:
			raw = append(raw, DiffLine{Kind: Removed, Old: a[i-1]})
			i--
		}
	}
	for l, r := 0, len(raw)-1; l < r; l, r = l+1, r-1 {
		raw[l], raw[r] = raw[r], raw[l]
	}

	out := make([]DiffLine, 0, len(raw))
	for k := 0; k < len(raw); k++ {
		line := raw[k]
		if line.Kind == Removed && k+1 < len(raw) && raw[k+1].Kind == Added &&
			wordSimilarity(line.Old, raw[k+1].New) > modifiedThreshold {
			out = append(out, DiffLine{Kind: Modified, Old: line.Old, New: raw[k+1].New})
			k++
			continue
		}
		out = append(out, line)
	}
	return out
}

// wordSimilarity is the number of words of a found in b over the word count
// of the longer line.
func wordSimilarity(a, b string) float64 {
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inB := make(map[string]bool, len(wb))
	for _, w := range wb {
		inB[w] = true
	}
	common := 0
	for _, w := range wa {
		if inB[w] {
			common++
		}
	}
	return float64(common) / float64(max(len(wa), len(wb)))
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
