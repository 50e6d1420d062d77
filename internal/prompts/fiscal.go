package prompts

import (
	"fmt"
	"strings"
	"time"
)

// FiscalPeriod returns the fiscal year and quarter containing t. The fiscal
// year starts on November 1 and is named after the calendar year it ends in:
// Nov-Jan is Q1, Feb-Apr Q2, May-Jul Q3, Aug-Oct Q4.
func FiscalPeriod(t time.Time) (int, string) {
	month := int(t.Month())
	year := t.Year()
	if month >= 11 {
		year++
	}
	shifted := (month + 1) % 12 // Nov=0, Dec=1, Jan=2, ...
	return year, fmt.Sprintf("Q%d", shifted/3+1)
}

// FiscalContext renders the current date and fiscal period for system prompts.
func FiscalContext(now time.Time) string {
	year, quarter := FiscalPeriod(now)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Today's date is %s.\n", now.Format("January 2, 2006"))
	fmt.Fprintf(&sb, "The current fiscal period is FY%d %s.\n", year, quarter)
	sb.WriteString("Fiscal years run November 1 to October 31 and are named after the calendar year they end in ")
	sb.WriteString("(Q1 = Nov-Jan, Q2 = Feb-Apr, Q3 = May-Jul, Q4 = Aug-Oct).\n")
	sb.WriteString("Results for a quarter are usually reported four to six weeks after it closes, ")
	sb.WriteString("so the latest reported quarter is normally the one before the current quarter.")
	return sb.String()
}
