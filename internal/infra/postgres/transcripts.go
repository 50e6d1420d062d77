package postgres

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/aegis/internal/domain"
)

const chunkColumns = `
	id, bank_id, fiscal_year, quarter, section_name,
	speaker_block_id, qa_group_id, chunk_id, speaker, chunk_content, category_ids`

// TranscriptRepository reads earnings-call transcript chunks.
type TranscriptRepository struct {
	db Querier
}

// NewTranscriptRepository creates a repository over db.
func NewTranscriptRepository(db Querier) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// ListChunks delegates to ListChunksWithDB.
func (r *TranscriptRepository) ListChunks(ctx context.Context, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error) {
	return ListChunksWithDB(ctx, r.db, combo, sections)
}

// ListChunksByCategories delegates to ListChunksByCategoriesWithDB.
func (r *TranscriptRepository) ListChunksByCategories(ctx context.Context, combo domain.BankPeriodCombination, categoryIDs []int) ([]domain.TranscriptChunk, error) {
	return ListChunksByCategoriesWithDB(ctx, r.db, combo, categoryIDs)
}

// SimilaritySearch delegates to SimilaritySearchWithDB.
func (r *TranscriptRepository) SimilaritySearch(ctx context.Context, combo domain.BankPeriodCombination, embedding []float32, topK int) ([]domain.TranscriptChunk, error) {
	return SimilaritySearchWithDB(ctx, r.db, combo, embedding, topK)
}

// ListQAGroups delegates to ListQAGroupsWithDB.
func (r *TranscriptRepository) ListQAGroups(ctx context.Context, combo domain.BankPeriodCombination) ([]domain.QAGroup, error) {
	return ListQAGroupsWithDB(ctx, r.db, combo)
}

// ListChunksWithDB returns the chunks of the given sections (all sections when
// empty) in transcript order.
func ListChunksWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error) {
	sql := `SELECT ` + chunkColumns + `
		FROM aegis_transcripts
		WHERE bank_id = $1 AND fiscal_year = $2 AND quarter = $3`
	args := []any{combo.BankID, combo.FiscalYear, combo.Quarter}
	if len(sections) > 0 {
		sql += ` AND section_name = ANY($4)`
		args = append(args, sections)
	}
	sql += ` ORDER BY section_name, COALESCE(speaker_block_id, qa_group_id), chunk_id`

	chunks, err := queryChunks(ctx, db, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ListChunks: %w", err)
	}
	return chunks, nil
}

// ListChunksByCategoriesWithDB returns chunks tagged with any of categoryIDs.
func ListChunksByCategoriesWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination, categoryIDs []int) ([]domain.TranscriptChunk, error) {
	if len(categoryIDs) == 0 {
		return nil, nil
	}
	sql := `SELECT ` + chunkColumns + `
		FROM aegis_transcripts
		WHERE bank_id = $1 AND fiscal_year = $2 AND quarter = $3
		  AND category_ids && $4::int[]
		ORDER BY section_name, COALESCE(speaker_block_id, qa_group_id), chunk_id`

	chunks, err := queryChunks(ctx, db, sql, combo.BankID, combo.FiscalYear, combo.Quarter, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("ListChunksByCategories: %w", err)
	}
	return chunks, nil
}

// SimilaritySearchWithDB returns the topK chunks closest to embedding by cosine
// distance, re-sorted into transcript order.
func SimilaritySearchWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination, embedding []float32, topK int) ([]domain.TranscriptChunk, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("SimilaritySearch: empty embedding")
	}
	if topK <= 0 {
		topK = 20
	}
	sql := `SELECT ` + chunkColumns + `
		FROM aegis_transcripts
		WHERE bank_id = $1 AND fiscal_year = $2 AND quarter = $3
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> $4::vector
		LIMIT $5`

	chunks, err := queryChunks(ctx, db, sql, combo.BankID, combo.FiscalYear, combo.Quarter, VectorLiteral(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("SimilaritySearch: %w", err)
	}
	SortChunks(chunks)
	return chunks, nil
}

// ListQAGroupsWithDB returns the Q&A section grouped by qa_group_id.
func ListQAGroupsWithDB(ctx context.Context, db Querier, combo domain.BankPeriodCombination) ([]domain.QAGroup, error) {
	chunks, err := ListChunksWithDB(ctx, db, combo, []string{domain.SectionQA})
	if err != nil {
		return nil, fmt.Errorf("ListQAGroups: %w", err)
	}
	return GroupQA(chunks), nil
}

// GroupQA groups Q&A chunks by qa_group_id in ascending id order. Chunks
// without a group id are skipped.
func GroupQA(chunks []domain.TranscriptChunk) []domain.QAGroup {
	byID := map[int]*domain.QAGroup{}
	var ids []int
	for _, c := range chunks {
		if c.QAGroupID == nil {
			continue
		}
		id := *c.QAGroupID
		g, ok := byID[id]
		if !ok {
			g = &domain.QAGroup{ID: id}
			byID[id] = g
			ids = append(ids, id)
		}
		g.Chunks = append(g.Chunks, c)
	}
	sort.Ints(ids)

	groups := make([]domain.QAGroup, 0, len(ids))
	for _, id := range ids {
		g := byID[id]
		sort.SliceStable(g.Chunks, func(i, j int) bool { return g.Chunks[i].ChunkID < g.Chunks[j].ChunkID })
		var sb strings.Builder
		for i, c := range g.Chunks {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			if c.Speaker != "" {
				sb.WriteString(c.Speaker)
				sb.WriteString(": ")
			}
			sb.WriteString(c.Content)
		}
		g.Content = sb.String()
		groups = append(groups, *g)
	}
	return groups
}

// SortChunks orders chunks as they appear in the call: management discussion
// before Q&A, then by block and chunk id.
func SortChunks(chunks []domain.TranscriptChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Section != b.Section {
			return a.Section == domain.SectionManagementDiscussion
		}
		if ba, bb := blockID(a), blockID(b); ba != bb {
			return ba < bb
		}
		return a.ChunkID < b.ChunkID
	})
}

func blockID(c domain.TranscriptChunk) int {
	switch {
	case c.SpeakerBlockID != nil:
		return *c.SpeakerBlockID
	case c.QAGroupID != nil:
		return *c.QAGroupID
	default:
		return 0
	}
}

// VectorLiteral renders v in the pgvector text format "[a,b,c]".
func VectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func queryChunks(ctx context.Context, db Querier, sql string, args ...any) ([]domain.TranscriptChunk, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptChunk
	for rows.Next() {
		var (
			c           domain.TranscriptChunk
			categoryIDs []int32
		)
		if err := rows.Scan(
			&c.ID, &c.BankID, &c.FiscalYear, &c.Quarter, &c.Section,
			&c.SpeakerBlockID, &c.QAGroupID, &c.ChunkID, &c.Speaker, &c.Content, &categoryIDs,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		for _, id := range categoryIDs {
			c.CategoryIDs = append(c.CategoryIDs, int(id))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
