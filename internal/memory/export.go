package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ExportVersion is the format version written by Export.
const ExportVersion = "1.0.0"

// importConstraint accepts current and prior 1.x exports.
var importConstraint = mustConstraint("<= " + ExportVersion)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ExportFile is the on-disk export format.
type ExportFile struct {
	Version  string          `json:"version"`
	Metadata ExportMetadata  `json:"metadata"`
	Entries  []ExportedEntry `json:"entries"`
}

// ExportMetadata describes an export. Embeddings are never exported, so
// IncludesEmbeddings is always false; the field keeps the format explicit
// about it.
type ExportMetadata struct {
	ExportedAt         time.Time `json:"exportedAt"`
	TotalEntries       int       `json:"totalEntries"`
	IncludesEmbeddings bool      `json:"includesEmbeddings"`
}

// ExportedEntry is one entry in an export. Ids are not carried over; imports
// assign fresh ones.
type ExportedEntry struct {
	Content     string    `json:"content"`
	Metadata    Metadata  `json:"metadata"`
	CreatedAt   time.Time `json:"createdAt"`
	AccessCount int       `json:"accessCount,omitempty"`
}

// ImportOptions controls Import behavior.
type ImportOptions struct {
	SkipDuplicates bool // skip entries whose content hash already exists
	Validate       bool // reject entries with empty content or unknown type
	ClearExisting  bool // wipe the store before importing
}

// ImportResult reports the outcome of an import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// Export writes all entries matching the filters to w as JSON.
func (m *Manager) Export(ctx context.Context, w io.Writer, filters *Filters) error {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at, last_accessed_at, access_count
		 FROM memory_entries ORDER BY id`)
	if err != nil {
		return queryError("export query", err)
	}
	defer rows.Close()

	out := ExportFile{
		Version:  ExportVersion,
		Metadata: ExportMetadata{ExportedAt: m.nowFunc().UTC()},
	}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return queryError("scan export row", err)
		}
		if !filters.Match(e) {
			continue
		}
		out.Entries = append(out.Entries, ExportedEntry{
			Content:     e.Content,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
			AccessCount: e.AccessCount,
		})
	}
	if err := rows.Err(); err != nil {
		return queryError("export query", err)
	}
	out.Metadata.TotalEntries = len(out.Entries)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return queryError("encode export", err)
	}
	return nil
}

// ExportToFile exports to a file path.
func (m *Manager) ExportToFile(ctx context.Context, path string, filters *Filters) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return dbError("create export file", err)
	}
	defer f.Close()
	return m.Export(ctx, f, filters)
}

// Import loads entries from an export. Per-entry failures are collected in
// the result rather than aborting the whole run.
func (m *Manager) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	var file ExportFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, &Error{Code: ErrCodeImportFormat, Message: fmt.Sprintf("decode export: %v", err), Cause: err}
	}

	ver, err := semver.NewVersion(file.Version)
	if err != nil {
		return nil, &Error{Code: ErrCodeImportFormat, Message: fmt.Sprintf("invalid export version %q", file.Version)}
	}
	if !importConstraint.Check(ver) {
		return nil, &Error{
			Code:    ErrCodeImportFormat,
			Message: fmt.Sprintf("unsupported export version %s (importer supports up to %s)", file.Version, ExportVersion),
		}
	}

	if opts.ClearExisting {
		if err := m.Clear(ctx); err != nil {
			return nil, err
		}
	}

	var existing map[string]struct{}
	if opts.SkipDuplicates {
		existing, err = m.contentHashes(ctx)
		if err != nil {
			return nil, err
		}
	}

	result := &ImportResult{}
	for i, entry := range file.Entries {
		if opts.Validate {
			if strings.TrimSpace(entry.Content) == "" {
				result.Errors = append(result.Errors, fmt.Sprintf("entry %d: empty content", i))
				continue
			}
			if !validType(entry.Metadata.Type) {
				result.Errors = append(result.Errors, fmt.Sprintf("entry %d: unknown type %q", i, entry.Metadata.Type))
				continue
			}
		}

		if opts.SkipDuplicates {
			h := contentHash(entry.Content)
			if _, dup := existing[h]; dup {
				result.Skipped++
				continue
			}
			existing[h] = struct{}{}
		}

		if _, err := m.Add(ctx, entry.Content, entry.Metadata); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i, err))
			continue
		}
		result.Imported++
	}

	m.logger.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Msg("memory import complete")

	return result, nil
}

// ImportFromFile imports from a file path.
func (m *Manager) ImportFromFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dbError("open import file", err)
	}
	defer f.Close()
	return m.Import(ctx, f, opts)
}

func (m *Manager) contentHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT content FROM memory_entries`)
	if err != nil {
		return nil, queryError("load content hashes", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, queryError("scan content", err)
		}
		out[contentHash(content)] = struct{}{}
	}
	return out, rows.Err()
}

// contentHash is a cheap fingerprint: length plus the first and last 100
// characters. Good enough to catch re-imports of the same export.
func contentHash(content string) string {
	r := []rune(content)
	head, tail := r, r
	if len(r) > 100 {
		head = r[:100]
		tail = r[len(r)-100:]
	}
	return fmt.Sprintf("%d:%s:%s", len(r), string(head), string(tail))
}

func validType(t EntryType) bool {
	switch t {
	case TypeConversation, TypeCode, TypeDocument, TypeTask, TypeOther, "":
		return true
	}
	return false
}
