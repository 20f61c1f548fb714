package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

const defaultSearchLimit = 10

// Manager owns the memory database. All writes are serialized through its
// mutex; entryCount mirrors the table so capacity checks avoid a COUNT per
// insert.
type Manager struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	entryCount int

	nowFunc func() time.Time
}

// NewManager opens (or creates) the database at cfg.Path.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := openDB(cfg.Path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}

	if err := m.refreshCount(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	m.logger.Debug().
		Str("path", cfg.Path).
		Int("entries", m.entryCount).
		Int("maxEntries", cfg.MaxEntries).
		Msg("memory store opened")

	return m, nil
}

// Close closes the database.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Add stores a new entry. When smart cleanup is enabled and the store has
// reached the trigger threshold, old entries are evicted first; if the store
// is still full after cleanup the insert fails with MEMORY_LIMIT.
func (m *Manager) Add(ctx context.Context, content string, md Metadata) (*Entry, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &Error{Code: ErrCodeQuery, Message: "content must not be empty"}
	}
	if md.Type == "" {
		md.Type = TypeOther
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbError("begin transaction", err)
	}
	defer tx.Rollback()

	count := m.entryCount
	cl := m.cfg.Cleanup
	if cl.Enabled && m.cfg.MaxEntries > 0 &&
		float64(count)/float64(m.cfg.MaxEntries) >= cl.TriggerThreshold {
		removed, err := m.evict(ctx, tx, count)
		if err != nil {
			return nil, err
		}
		count -= removed
		m.logger.Info().
			Int("removed", removed).
			Int("remaining", count).
			Str("strategy", string(cl.Strategy)).
			Msg("memory cleanup")
	}

	if count >= m.cfg.MaxEntries {
		return nil, &Error{
			Code:    ErrCodeMemoryLimit,
			Message: fmt.Sprintf("memory store is full (%d/%d entries)", count, m.cfg.MaxEntries),
		}
	}

	metaJSON, err := json.Marshal(md)
	if err != nil {
		return nil, queryError("encode metadata", err)
	}

	now := m.nowFunc().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO memory_entries (content, metadata, created_at) VALUES (?, ?, ?)`,
		content, string(metaJSON), formatTime(now))
	if err != nil {
		return nil, dbError("insert entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, dbError("read inserted id", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbError("commit insert", err)
	}
	m.entryCount = count + 1

	return &Entry{ID: id, Content: content, Metadata: md, CreatedAt: now}, nil
}

// Get fetches an entry by id. When access tracking is on, the read bumps the
// entry's access count.
func (m *Manager) Get(ctx context.Context, id int64) (*Entry, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT id, content, metadata, created_at, last_accessed_at, access_count
		 FROM memory_entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &Error{Code: ErrCodeEntryNotFound, Message: fmt.Sprintf("entry %d not found", id)}
	}
	if err != nil {
		return nil, queryError("get entry", err)
	}

	if m.cfg.TrackAccess {
		m.recordAccess(ctx, []int64{id})
	}
	return entry, nil
}

// Delete removes an entry by id.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return dbError("delete entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError("delete entry", err)
	}
	if n == 0 {
		return &Error{Code: ErrCodeEntryNotFound, Message: fmt.Sprintf("entry %d not found", id)}
	}
	m.entryCount -= int(n)
	return nil
}

// List returns entries newest first.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at, last_accessed_at, access_count
		 FROM memory_entries ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, queryError("list entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, queryError("scan entry", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Search runs a full-text query. The raw text is sanitized before being
// handed to the index; a query that sanitizes to nothing matches nothing.
// Results are ranked by BM25, filtered, thresholded, and capped at Limit.
func (m *Manager) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	match := sanitizeQuery(q.Text)
	if match == "" {
		return nil, nil
	}

	// Metadata filters and the threshold are applied after FTS ranking, so a
	// single fixed window can run dry before the limit is filled. Page
	// through the ranked matches until the limit is met or the index is
	// exhausted.
	pageSize := limit * 4
	if pageSize < 40 {
		pageSize = 40
	}

	var (
		results []SearchResult
		ids     []int64
	)
	for offset := 0; len(results) < limit; offset += pageSize {
		scanned, err := m.searchPage(ctx, match, q, limit, pageSize, offset, &results, &ids)
		if err != nil {
			return nil, err
		}
		if scanned < pageSize {
			break
		}
	}

	if m.cfg.TrackAccess && len(ids) > 0 {
		m.recordAccess(ctx, ids)
	}
	return results, nil
}

// searchPage scans one window of ranked matches into results and reports how
// many rows the window held.
func (m *Manager) searchPage(ctx context.Context, match string, q SearchQuery, limit, pageSize, offset int, results *[]SearchResult, ids *[]int64) (int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT e.id, e.content, e.metadata, e.created_at, e.last_accessed_at, e.access_count,
		        bm25(memory_fts) AS rank
		 FROM memory_fts
		 JOIN memory_entries e ON e.id = memory_fts.rowid
		 WHERE memory_fts MATCH ?
		 ORDER BY rank
		 LIMIT ? OFFSET ?`,
		match, pageSize, offset)
	if err != nil {
		return 0, queryError("search", err)
	}
	defer rows.Close()

	scanned := 0
	for rows.Next() {
		scanned++
		var (
			e          Entry
			metaJSON   string
			createdAt  string
			accessedAt sql.NullString
			rank       float64
		)
		if err := rows.Scan(&e.ID, &e.Content, &metaJSON, &createdAt, &accessedAt, &e.AccessCount, &rank); err != nil {
			return scanned, queryError("scan search row", err)
		}
		if err := decodeEntry(&e, metaJSON, createdAt, accessedAt); err != nil {
			return scanned, err
		}

		if !q.Filters.Match(&e) {
			continue
		}
		sim := 1.0 / (1.0 + math.Abs(rank))
		if q.Threshold != nil && sim < *q.Threshold {
			continue
		}

		*results = append(*results, SearchResult{Entry: e, Similarity: sim})
		*ids = append(*ids, e.ID)
		if len(*results) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return scanned, queryError("search", err)
	}
	return scanned, nil
}

// Cleanup runs the eviction pass manually, regardless of the trigger
// threshold. It returns the number of entries removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if !m.cfg.Cleanup.Enabled {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbError("begin transaction", err)
	}
	defer tx.Rollback()

	removed, err := m.evict(ctx, tx, m.entryCount)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, dbError("commit cleanup", err)
	}
	m.entryCount -= removed
	return removed, nil
}

// DeleteBefore removes entries created before the cutoff. Used by the
// retention sweep.
func (m *Manager) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE created_at < ?`, formatTime(cutoff.UTC()))
	if err != nil {
		return 0, dbError("delete expired entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("delete expired entries", err)
	}
	m.entryCount -= int(n)
	return int(n), nil
}

// Clear removes every entry.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.ExecContext(ctx, `DELETE FROM memory_entries`); err != nil {
		return dbError("clear entries", err)
	}
	m.entryCount = 0
	return nil
}

// Count returns the cached entry count.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryCount
}

// Stats reports entry count and database file size.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{TotalEntries: m.Count()}
	if info, err := os.Stat(m.cfg.Path); err == nil {
		s.DBSizeBytes = info.Size()
	}
	return s, nil
}

// evict removes entries per the cleanup strategy, down toward the target
// threshold, bounded by min/max cleanup counts. Caller holds the mutex.
func (m *Manager) evict(ctx context.Context, tx *sql.Tx, count int) (int, error) {
	cl := m.cfg.Cleanup

	target := int(cl.TargetThreshold * float64(m.cfg.MaxEntries))
	remove := count - target
	if remove < cl.MinCleanupCount {
		remove = cl.MinCleanupCount
	}
	if remove > cl.MaxCleanupCount {
		remove = cl.MaxCleanupCount
	}
	if remove > count {
		remove = count
	}
	if remove <= 0 {
		return 0, nil
	}

	strategy := cl.Strategy
	if strategy == StrategyLeastAccessed && !m.cfg.TrackAccess {
		// Without access data the ordering is meaningless.
		strategy = StrategyOldest
	}

	var order string
	switch strategy {
	case StrategyLeastAccessed:
		order = "access_count ASC, last_accessed_at ASC, id ASC"
	case StrategyHybrid:
		order = "access_count ASC, created_at ASC, id ASC"
	default:
		order = "created_at ASC, id ASC"
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM memory_entries WHERE id IN
		 (SELECT id FROM memory_entries ORDER BY %s LIMIT ?)`, order), remove)
	if err != nil {
		return 0, dbError("evict entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("evict entries", err)
	}
	return int(n), nil
}

func (m *Manager) recordAccess(ctx context.Context, ids []int64) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(m.nowFunc().UTC()))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := m.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE memory_entries
		 SET access_count = access_count + 1, last_accessed_at = ?
		 WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		// Access tracking is advisory; a failed bump never fails the read.
		m.logger.Warn().Err(err).Msg("access tracking update failed")
	}
}

func (m *Manager) refreshCount(ctx context.Context) error {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&n); err != nil {
		return dbError("count entries", err)
	}
	m.entryCount = n
	return nil
}

// sanitizeQuery strips FTS5 syntax from user text: metacharacters and the
// boolean keywords become spaces, and the surviving terms are OR-joined.
func sanitizeQuery(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return ' '
	}, text)

	var terms []string
	for _, tok := range strings.Fields(cleaned) {
		switch tok {
		case "AND", "OR", "NOT":
			continue
		}
		terms = append(terms, `"`+tok+`"`)
	}
	return strings.Join(terms, " OR ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e          Entry
		metaJSON   string
		createdAt  string
		accessedAt sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Content, &metaJSON, &createdAt, &accessedAt, &e.AccessCount); err != nil {
		return nil, err
	}
	if err := decodeEntry(&e, metaJSON, createdAt, accessedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeEntry(e *Entry, metaJSON, createdAt string, accessedAt sql.NullString) error {
	if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
		return queryError("decode metadata", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return queryError("parse created_at", err)
	}
	e.CreatedAt = t
	if accessedAt.Valid {
		at, err := parseTime(accessedAt.String)
		if err != nil {
			return queryError("parse last_accessed_at", err)
		}
		e.LastAccessedAt = &at
	}
	return nil
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
