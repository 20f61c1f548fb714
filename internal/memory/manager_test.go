package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:        filepath.Join(t.TempDir(), "memory.db"),
		MaxEntries:  1000,
		TrackAccess: true,
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAddAndGet(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	entry, err := m.Add(ctx, "the quick brown fox", Metadata{Type: TypeDocument, Source: "test", Tags: []string{"animals"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ID)

	got, err := m.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox", got.Content)
	assert.Equal(t, TypeDocument, got.Metadata.Type)
	assert.Equal(t, []string{"animals"}, got.Metadata.Tags)
}

func TestAddEmptyContent(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	_, err := m.Add(context.Background(), "   ", Metadata{})
	assert.Equal(t, ErrCodeQuery, CodeOf(err))
}

func TestGetNotFound(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	_, err := m.Get(context.Background(), 999)
	assert.Equal(t, ErrCodeEntryNotFound, CodeOf(err))
}

func TestDelete(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	entry, err := m.Add(ctx, "to be removed", Metadata{})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, entry.ID))
	assert.Equal(t, 0, m.Count())

	err = m.Delete(ctx, entry.ID)
	assert.Equal(t, ErrCodeEntryNotFound, CodeOf(err))
}

func TestSearchRankedAndBounded(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "golang concurrency patterns with channels", Metadata{Type: TypeCode})
	require.NoError(t, err)
	_, err = m.Add(ctx, "golang error handling", Metadata{Type: TypeCode})
	require.NoError(t, err)
	_, err = m.Add(ctx, "recipe for pancakes", Metadata{Type: TypeDocument})
	require.NoError(t, err)

	results, err := m.Search(ctx, SearchQuery{Text: "golang channels", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		assert.Greater(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
		assert.NotEqual(t, "recipe for pancakes", r.Entry.Content)
	}
	// Best match mentions both terms
	assert.Contains(t, results[0].Entry.Content, "channels")
}

func TestSearchSanitizesQuery(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "database migration guide", Metadata{})
	require.NoError(t, err)

	// Injection-style input must not error, just match on the surviving terms
	results, err := m.Search(ctx, SearchQuery{Text: `database" OR (migration* NOT`})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Pure metacharacters sanitize to nothing
	results, err = m.Search(ctx, SearchQuery{Text: `"*(){}:^`})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchFillsLimitPastFilteredMatches(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	// 50 strong matches from another agent rank ahead of the 10 relevant
	// ones; a single fixed fetch window would miss them all.
	for i := 0; i < 50; i++ {
		_, err := m.Add(ctx, fmt.Sprintf("widget widget widget report %d", i), Metadata{Type: TypeDocument, AgentID: "alpha"})
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		_, err := m.Add(ctx, fmt.Sprintf("widget inventory note %d", i), Metadata{Type: TypeDocument, AgentID: "beta"})
		require.NoError(t, err)
	}

	results, err := m.Search(ctx, SearchQuery{
		Text:    "widget",
		Limit:   5,
		Filters: &Filters{AgentID: "beta"},
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, "beta", r.Entry.Metadata.AgentID)
	}
}

func TestSearchMetadataFilters(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "deploy checklist for backend", Metadata{Type: TypeTask, AgentID: "backend", Tags: []string{"deploy", "ops"}})
	require.NoError(t, err)
	_, err = m.Add(ctx, "deploy checklist for frontend", Metadata{Type: TypeTask, AgentID: "frontend", Tags: []string{"deploy"}})
	require.NoError(t, err)

	results, err := m.Search(ctx, SearchQuery{
		Text:    "deploy checklist",
		Filters: &Filters{AgentID: "backend", Tags: []string{"deploy", "ops"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "backend", results[0].Entry.Metadata.AgentID)
}

func TestSearchThreshold(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "one shared keyword here", Metadata{})
	require.NoError(t, err)

	high := 0.999999
	results, err := m.Search(ctx, SearchQuery{Text: "keyword", Threshold: &high})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAccessTracking(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	entry, err := m.Add(ctx, "tracked entry about caching", Metadata{})
	require.NoError(t, err)

	_, err = m.Search(ctx, SearchQuery{Text: "caching"})
	require.NoError(t, err)

	got, err := m.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.AccessCount, 1)
	assert.NotNil(t, got.LastAccessedAt)
}

func TestSmartCleanupOldest(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEntries = 10
	cfg.Cleanup = CleanupConfig{
		Enabled:          true,
		Strategy:         StrategyOldest,
		TriggerThreshold: 0.9,
		TargetThreshold:  0.7,
		MinCleanupCount:  1,
		MaxCleanupCount:  100,
		RetentionDays:    30,
	}
	m := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		_, err := m.Add(ctx, fmt.Sprintf("entry number %d", i), Metadata{})
		require.NoError(t, err)
	}
	require.Equal(t, 9, m.Count())

	// The 10th add hits the 0.9 trigger, evicts down toward 0.7, then inserts
	tenth, err := m.Add(ctx, "entry number 10", Metadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), tenth.ID)
	assert.Equal(t, 8, m.Count())

	// Oldest two are gone, everything else survived
	for _, id := range []int64{1, 2} {
		_, err := m.Get(ctx, id)
		assert.Equal(t, ErrCodeEntryNotFound, CodeOf(err), "id %d", id)
	}
	for id := int64(3); id <= 10; id++ {
		_, err := m.Get(ctx, id)
		assert.NoError(t, err, "id %d", id)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEntries = 20
	cfg.Cleanup = CleanupConfig{
		Enabled:          true,
		Strategy:         StrategyOldest,
		TriggerThreshold: 0.9,
		TargetThreshold:  0.7,
		MinCleanupCount:  1,
		MaxCleanupCount:  50,
		RetentionDays:    30,
	}
	m := newTestManager(t, cfg)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		_, err := m.Add(ctx, fmt.Sprintf("bulk entry %d", i), Metadata{})
		require.NoError(t, err)
		assert.LessOrEqual(t, m.Count(), cfg.MaxEntries)
	}
}

func TestMemoryLimitWithoutCleanup(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxEntries = 2
	m := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.Add(ctx, "first", Metadata{})
	require.NoError(t, err)
	_, err = m.Add(ctx, "second", Metadata{})
	require.NoError(t, err)

	_, err = m.Add(ctx, "third", Metadata{})
	assert.Equal(t, ErrCodeMemoryLimit, CodeOf(err))
	assert.Equal(t, 2, m.Count())
}

func TestDeleteBefore(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return old }
	_, err := m.Add(ctx, "stale entry", Metadata{})
	require.NoError(t, err)

	m.nowFunc = time.Now
	_, err = m.Add(ctx, "fresh entry", Metadata{})
	require.NoError(t, err)

	removed, err := m.DeleteBefore(ctx, time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, m.Count())
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		m.nowFunc = func() time.Time { return at }
		_, err := m.Add(ctx, fmt.Sprintf("item %d", i), Metadata{})
		require.NoError(t, err)
	}

	entries, err := m.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "item 2", entries[0].Content)
	assert.Equal(t, "item 1", entries[1].Content)
}

func TestBackupRestore(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.Add(ctx, "survives the backup", Metadata{})
	require.NoError(t, err)

	backupPath := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, m.Backup(ctx, backupPath))

	_, err = m.Add(ctx, "added after backup", Metadata{})
	require.NoError(t, err)
	require.Equal(t, 2, m.Count())

	require.NoError(t, m.Restore(ctx, backupPath))
	assert.Equal(t, 1, m.Count())

	results, err := m.Search(ctx, SearchQuery{Text: "survives"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestConfigValidate(t *testing.T) {
	base := CleanupConfig{
		Enabled:          true,
		Strategy:         StrategyOldest,
		TriggerThreshold: 0.9,
		TargetThreshold:  0.7,
		MinCleanupCount:  1,
		MaxCleanupCount:  10,
		RetentionDays:    30,
	}

	cases := []struct {
		name   string
		mutate func(*CleanupConfig)
	}{
		{"trigger too low", func(c *CleanupConfig) { c.TriggerThreshold = 0.4 }},
		{"trigger too high", func(c *CleanupConfig) { c.TriggerThreshold = 1.1 }},
		{"target too low", func(c *CleanupConfig) { c.TargetThreshold = 0.05 }},
		{"target too high", func(c *CleanupConfig) { c.TargetThreshold = 0.95 }},
		{"target not below trigger", func(c *CleanupConfig) { c.TargetThreshold = 0.9 }},
		{"min below one", func(c *CleanupConfig) { c.MinCleanupCount = 0 }},
		{"max below min", func(c *CleanupConfig) { c.MinCleanupCount = 5; c.MaxCleanupCount = 3 }},
		{"retention below one", func(c *CleanupConfig) { c.RetentionDays = 0 }},
		{"unknown strategy", func(c *CleanupConfig) { c.Strategy = "random" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cl := base
			tc.mutate(&cl)
			cfg := Config{Path: "x.db", MaxEntries: 100, Cleanup: cl}
			err := cfg.Validate()
			assert.Equal(t, ErrCodeConfig, CodeOf(err))
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg := Config{Path: "x.db", MaxEntries: 100, Cleanup: base}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled skips cleanup checks", func(t *testing.T) {
		cfg := Config{Path: "x.db", MaxEntries: 100}
		assert.NoError(t, cfg.Validate())
	})
}

func TestSanitizeQuery(t *testing.T) {
	assert.Equal(t, `"hello" OR "world"`, sanitizeQuery("hello world"))
	assert.Equal(t, `"hello" OR "world"`, sanitizeQuery(`hello AND (world)*`))
	assert.Equal(t, "", sanitizeQuery("AND OR NOT"))
	assert.Equal(t, "", sanitizeQuery(`"*():^`))
	assert.Equal(t, `"快速" OR "搜尋"`, sanitizeQuery("快速 搜尋"))
}
