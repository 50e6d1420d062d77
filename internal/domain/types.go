// Package domain holds the plain records passed between the conversational
// pipeline stages and the ETL pipelines.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Database identifiers used across the planner, subagents and availability table.
const (
	DatabaseBenchmarking = "benchmarking"
	DatabaseReports      = "reports"
	DatabaseRTS          = "rts"
	DatabaseTranscripts  = "transcripts"
	DatabasePillar3      = "pillar3"
)

// AllDatabases lists every database the planner can select, in display order.
var AllDatabases = []string{
	DatabaseBenchmarking,
	DatabaseReports,
	DatabaseRTS,
	DatabaseTranscripts,
	DatabasePillar3,
}

// Transcript section names as stored in aegis_transcripts.
const (
	SectionManagementDiscussion = "MANAGEMENT DISCUSSION SECTION"
	SectionQA                   = "Q&A"
)

// Bank identifies a monitored institution.
type Bank struct {
	ID     int    `json:"bank_id"`
	Name   string `json:"bank_name"`
	Symbol string `json:"bank_symbol"`
	Type   string `json:"bank_type"`
}

// BankPeriodCombination is the unit of work for subagents and ETL stages.
type BankPeriodCombination struct {
	BankID      int    `json:"bank_id"`
	BankName    string `json:"bank_name"`
	BankSymbol  string `json:"bank_symbol"`
	BankType    string `json:"bank_type,omitempty"`
	FiscalYear  int    `json:"fiscal_year"`
	Quarter     string `json:"quarter"`
	QueryIntent string `json:"query_intent,omitempty"`
}

// Period returns the fiscal period of the combination.
func (c BankPeriodCombination) Period() Period {
	return Period{FiscalYear: c.FiscalYear, Quarter: c.Quarter}
}

// Label renders the combination as "RY.TO 2024 Q3".
func (c BankPeriodCombination) Label() string {
	name := c.BankSymbol
	if name == "" {
		name = c.BankName
	}
	return fmt.Sprintf("%s %d %s", name, c.FiscalYear, c.Quarter)
}

// Availability records which databases carry data for a bank-period.
type Availability struct {
	BankID     int      `json:"bank_id"`
	BankName   string   `json:"bank_name"`
	BankSymbol string   `json:"bank_symbol"`
	BankType   string   `json:"bank_type"`
	FiscalYear int      `json:"fiscal_year"`
	Quarter    string   `json:"quarter"`
	Databases  []string `json:"database_names"`
}

// Bank returns the bank described by the availability row.
func (a Availability) Bank() Bank {
	return Bank{ID: a.BankID, Name: a.BankName, Symbol: a.BankSymbol, Type: a.BankType}
}

// HasDatabase reports whether the row lists db.
func (a Availability) HasDatabase(db string) bool {
	for _, d := range a.Databases {
		if d == db {
			return true
		}
	}
	return false
}

// TranscriptChunk is one row of aegis_transcripts.
type TranscriptChunk struct {
	ID             int64     `json:"id"`
	BankID         int       `json:"bank_id"`
	FiscalYear     int       `json:"fiscal_year"`
	Quarter        string    `json:"quarter"`
	Section        string    `json:"section_name"`
	SpeakerBlockID *int      `json:"speaker_block_id,omitempty"`
	QAGroupID      *int      `json:"qa_group_id,omitempty"`
	ChunkID        int       `json:"chunk_id"`
	Speaker        string    `json:"speaker"`
	Content        string    `json:"chunk_content"`
	CategoryIDs    []int     `json:"category_ids,omitempty"`
	Embedding      []float32 `json:"-"`
}

// QAGroup is a set of transcript chunks forming one analyst question and its answers.
type QAGroup struct {
	ID      int               `json:"qa_group_id"`
	Chunks  []TranscriptChunk `json:"chunks"`
	Content string            `json:"content"`
}

// Evidence supports a Statement with a quote or paraphrase from the transcript.
type Evidence struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

// Statement is a single extracted finding.
type Statement struct {
	Text      string     `json:"statement"`
	Relevance int        `json:"relevance_score,omitempty"`
	Evidence  []Evidence `json:"evidence"`
}

// CategoryResult is the extraction output for one category.
type CategoryResult struct {
	Index           int         `json:"index"`
	Name            string      `json:"name"`
	ReportSection   string      `json:"report_section"`
	Title           string      `json:"title"`
	Statements      []Statement `json:"statements"`
	Rejected        bool        `json:"rejected"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
}

// ThemeGroup groups Q&A exchanges under a common title.
type ThemeGroup struct {
	Title     string `json:"group_title"`
	QAIDs     []int  `json:"qa_ids"`
	Rationale string `json:"rationale,omitempty"`
}

// Report types produced by the ETL pipelines.
const (
	ReportTypeCallSummary   = "call_summary"
	ReportTypeKeyThemes     = "key_themes"
	ReportTypeCMReadthrough = "cm_readthrough"
)

// Report is a stored ETL output served by the reports subagent.
type Report struct {
	ID          string          `json:"report_id"`
	BankID      int             `json:"bank_id"`
	BankName    string          `json:"bank_name"`
	BankSymbol  string          `json:"bank_symbol"`
	FiscalYear  int             `json:"fiscal_year"`
	Quarter     string          `json:"quarter"`
	ReportType  string          `json:"report_type"`
	Title       string          `json:"title"`
	Markdown    string          `json:"markdown"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ArtifactURI string          `json:"artifact_uri,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
