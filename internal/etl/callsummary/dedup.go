package callsummary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/aegis/internal/domain"
)

// StatementDuplicate marks a statement to remove.
type StatementDuplicate struct {
	CategoryIndex            int    `json:"category_index"`
	StatementIndex           int    `json:"statement_index"`
	DuplicateOfCategoryIndex int    `json:"duplicate_of_category_index"`
	DuplicateOfStatement     int    `json:"duplicate_of_statement_index"`
	Reasoning                string `json:"reasoning,omitempty"`
}

// EvidenceDuplicate marks an evidence item to remove.
type EvidenceDuplicate struct {
	CategoryIndex  int    `json:"category_index"`
	StatementIndex int    `json:"statement_index"`
	EvidenceIndex  int    `json:"evidence_index"`
	Reasoning      string `json:"reasoning,omitempty"`
}

// Dedup is the deduplication_analysis tool arguments.
type Dedup struct {
	StatementDuplicates []StatementDuplicate `json:"statement_duplicates"`
	EvidenceDuplicates  []EvidenceDuplicate  `json:"evidence_duplicates"`
}

// DedupStats counts the removals that were applied.
type DedupStats struct {
	StatementsRemoved int `json:"statements_removed"`
	EvidenceRemoved   int `json:"evidence_removed"`
	Ignored           int `json:"ignored"`
	// Emptied lists the category indices rejected because every statement was removed.
	Emptied []int `json:"emptied,omitempty"`
}

const emptiedReason = "All statements duplicated content in other categories"

// ApplyDedup removes the duplicates named in d from results. category_index
// refers to CategoryResult.Index; statement and evidence indices are zero-based
// positions. Out-of-range or self-referencing entries are ignored, as are
// entries whose duplicate_of statement was marked earlier in the list. Removals are
// applied per category in reverse index order, evidence before statements, so
// earlier indices stay valid. Categories left without statements are rejected.
func ApplyDedup(results []domain.CategoryResult, d Dedup) DedupStats {
	var stats DedupStats
	pos := map[int]int{}
	for i, r := range results {
		if !r.Rejected {
			pos[r.Index] = i
		}
	}

	type stmtKey struct{ cat, stmt int }
	evidence := map[stmtKey][]int{}
	for _, e := range d.EvidenceDuplicates {
		i, ok := pos[e.CategoryIndex]
		if !ok || e.StatementIndex < 0 || e.StatementIndex >= len(results[i].Statements) {
			stats.Ignored++
			continue
		}
		if e.EvidenceIndex < 0 || e.EvidenceIndex >= len(results[i].Statements[e.StatementIndex].Evidence) {
			stats.Ignored++
			continue
		}
		k := stmtKey{i, e.StatementIndex}
		evidence[k] = append(evidence[k], e.EvidenceIndex)
	}

	statements := map[int][]int{}
	marked := map[stmtKey]bool{}
	for _, s := range d.StatementDuplicates {
		i, ok := pos[s.CategoryIndex]
		if !ok || s.StatementIndex < 0 || s.StatementIndex >= len(results[i].Statements) {
			stats.Ignored++
			continue
		}
		if s.CategoryIndex == s.DuplicateOfCategoryIndex && s.StatementIndex == s.DuplicateOfStatement {
			stats.Ignored++
			continue
		}
		// The kept copy must survive: a statement whose original is already
		// slated for removal stays.
		if j, ok := pos[s.DuplicateOfCategoryIndex]; ok && marked[stmtKey{j, s.DuplicateOfStatement}] {
			stats.Ignored++
			continue
		}
		k := stmtKey{i, s.StatementIndex}
		if marked[k] {
			continue
		}
		marked[k] = true
		statements[i] = append(statements[i], s.StatementIndex)
	}

	for k, idx := range evidence {
		st := &results[k.cat].Statements[k.stmt]
		for _, e := range descendingUnique(idx) {
			st.Evidence = append(st.Evidence[:e], st.Evidence[e+1:]...)
			stats.EvidenceRemoved++
		}
	}

	for i, idx := range statements {
		r := &results[i]
		for _, s := range descendingUnique(idx) {
			r.Statements = append(r.Statements[:s], r.Statements[s+1:]...)
			stats.StatementsRemoved++
		}
		if len(r.Statements) == 0 {
			r.Rejected = true
			r.RejectionReason = emptiedReason
			stats.Emptied = append(stats.Emptied, r.Index)
		}
	}
	sort.Ints(stats.Emptied)
	return stats
}

func descendingUnique(idx []int) []int {
	out := append([]int(nil), idx...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	n := 0
	for i, v := range out {
		if i > 0 && v == out[n-1] {
			continue
		}
		out[n] = v
		n++
	}
	return out[:n]
}

// FormatForDedup renders the accepted categories with their zero-based
// statement and evidence indices.
func FormatForDedup(results []domain.CategoryResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Rejected {
			continue
		}
		fmt.Fprintf(&sb, "Category %d: %s\n", r.Index, r.Name)
		for si, s := range r.Statements {
			fmt.Fprintf(&sb, "  [%d] %s\n", si, s.Text)
			for ei, e := range s.Evidence {
				fmt.Fprintf(&sb, "    (%d) %s, %s: %s\n", ei, e.Type, e.Speaker, e.Content)
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}
