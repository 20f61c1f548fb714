package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := src.Add(ctx, "first entry about routing", Metadata{Type: TypeDocument, Source: "test"})
	require.NoError(t, err)
	_, err = src.Add(ctx, "second entry about caching", Metadata{Type: TypeCode, Source: "test", Tags: []string{"perf"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf, nil))

	var file ExportFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &file))
	assert.Equal(t, ExportVersion, file.Version)
	assert.Equal(t, 2, file.Metadata.TotalEntries)
	assert.False(t, file.Metadata.IncludesEmbeddings)
	assert.Contains(t, buf.String(), `"includesEmbeddings": false`)

	dst := newTestManager(t, testConfig(t))
	result, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()), ImportOptions{Validate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)

	entries, err := dst.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"perf"}, entries[0].Metadata.Tags)
}

func TestExportFilters(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "kept", Metadata{Type: TypeTask, AgentID: "backend"})
	require.NoError(t, err)
	_, err = m.Add(ctx, "dropped", Metadata{Type: TypeTask, AgentID: "frontend"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Export(ctx, &buf, &Filters{AgentID: "backend"}))

	var file ExportFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &file))
	require.Len(t, file.Entries, 1)
	assert.Equal(t, "kept", file.Entries[0].Content)
}

func TestImportSkipDuplicates(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "already here", Metadata{Type: TypeOther})
	require.NoError(t, err)

	export := ExportFile{
		Version: ExportVersion,
		Entries: []ExportedEntry{
			{Content: "already here", Metadata: Metadata{Type: TypeOther}},
			{Content: "brand new", Metadata: Metadata{Type: TypeOther}},
		},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)

	result, err := m.Import(ctx, bytes.NewReader(data), ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, m.Count())
}

func TestImportClearExisting(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	ctx := context.Background()

	_, err := m.Add(ctx, "old content", Metadata{Type: TypeOther})
	require.NoError(t, err)

	export := ExportFile{
		Version: ExportVersion,
		Entries: []ExportedEntry{{Content: "new content", Metadata: Metadata{Type: TypeOther}}},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)

	result, err := m.Import(ctx, bytes.NewReader(data), ImportOptions{ClearExisting: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, m.Count())

	entries, err := m.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new content", entries[0].Content)
}

func TestImportValidation(t *testing.T) {
	m := newTestManager(t, testConfig(t))

	export := ExportFile{
		Version: ExportVersion,
		Entries: []ExportedEntry{
			{Content: "   ", Metadata: Metadata{Type: TypeOther}},
			{Content: "bad type", Metadata: Metadata{Type: "telepathy"}},
			{Content: "fine", Metadata: Metadata{Type: TypeOther}},
		},
	}
	data, err := json.Marshal(export)
	require.NoError(t, err)

	result, err := m.Import(context.Background(), bytes.NewReader(data), ImportOptions{Validate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "empty content")
	assert.Contains(t, result.Errors[1], "telepathy")
}

func TestImportVersionGate(t *testing.T) {
	m := newTestManager(t, testConfig(t))

	for _, version := range []string{"2.0.0", "1.1.0", "not-a-version"} {
		data, err := json.Marshal(ExportFile{Version: version})
		require.NoError(t, err)

		_, err = m.Import(context.Background(), bytes.NewReader(data), ImportOptions{})
		require.Error(t, err, version)
		assert.Equal(t, ErrCodeImportFormat, CodeOf(err), version)
	}

	// Older 1.x exports still import
	data, err := json.Marshal(ExportFile{Version: "0.9.0"})
	require.NoError(t, err)
	result, err := m.Import(context.Background(), bytes.NewReader(data), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
}

func TestImportMalformedJSON(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	_, err := m.Import(context.Background(), strings.NewReader("{not json"), ImportOptions{})
	require.Error(t, err)
	assert.Equal(t, ErrCodeImportFormat, CodeOf(err))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, contentHash("abc"), contentHash("abc"))
	assert.NotEqual(t, contentHash("abc"), contentHash("abd"))

	long := strings.Repeat("x", 150) + "middle" + strings.Repeat("y", 150)
	altered := strings.Repeat("x", 150) + "MIDDLE" + strings.Repeat("y", 150)
	// Middle-only differences are invisible to the fingerprint
	assert.Equal(t, contentHash(long), contentHash(altered))
}
