package domain

import (
	"fmt"
	"strings"
)

// Quarters lists valid quarter labels in order.
var Quarters = []string{"Q1", "Q2", "Q3", "Q4"}

// Period is a fiscal year and quarter.
type Period struct {
	FiscalYear int    `json:"fiscal_year"`
	Quarter    string `json:"quarter"`
}

// String renders "2024 Q3".
func (p Period) String() string {
	return fmt.Sprintf("%d %s", p.FiscalYear, p.Quarter)
}

// Less reports whether p is chronologically before o.
func (p Period) Less(o Period) bool {
	if p.FiscalYear != o.FiscalYear {
		return p.FiscalYear < o.FiscalYear
	}
	return QuarterIndex(p.Quarter) < QuarterIndex(o.Quarter)
}

// Validate checks the fiscal year range and quarter label.
func (p Period) Validate() error {
	if p.FiscalYear < 2000 || p.FiscalYear > 2100 {
		return fmt.Errorf("fiscal year %d out of range", p.FiscalYear)
	}
	if QuarterIndex(p.Quarter) < 0 {
		return fmt.Errorf("invalid quarter %q", p.Quarter)
	}
	return nil
}

// NormalizeQuarter upper-cases and trims a quarter label, accepting "3" as "Q3".
func NormalizeQuarter(q string) string {
	q = strings.ToUpper(strings.TrimSpace(q))
	if len(q) == 1 && q[0] >= '1' && q[0] <= '4' {
		return "Q" + q
	}
	return q
}

// QuarterIndex returns the zero-based index of q, or -1 when q is not a quarter.
func QuarterIndex(q string) int {
	for i, v := range Quarters {
		if v == q {
			return i
		}
	}
	return -1
}
