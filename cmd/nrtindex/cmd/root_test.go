package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// isolate points the home and config directories at a temp dir so that
// neither user configuration nor log files leak into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	return home
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestRootCmd_PutThenQuery(t *testing.T) {
	// Given: an index directory with two entries written by separate invocations
	home := isolate(t)
	dir := filepath.Join(home, "notes")
	common := []string{"--dir", dir, "--index", "notes", "--fields", "body", "--no-color"}

	out := mustRun(t, append([]string{"put", "#1:0", "the quick brown fox"}, common...)...)
	assert.Contains(t, out, "Indexed the quick brown fox for #1:0")
	mustRun(t, append([]string{"put", "#1:1", "a lazy dog"}, common...)...)

	// When: querying for a term of the first entry
	out = mustRun(t, append([]string{"query", "fox"}, common...)...)

	// Then: only the first entry is listed
	assert.Contains(t, out, "1 of 1 results")
	assert.Contains(t, out, "#1:0")
	assert.NotContains(t, out, "#1:1")
}

func TestRootCmd_QueryJSONWithFacets(t *testing.T) {
	// Given: a faceted index of books
	home := isolate(t)
	common := []string{"--dir", filepath.Join(home, "books"), "--index", "books",
		"--fields", "title,author", "--facet", "author"}
	mustRun(t, append([]string{"put", "#1:1", "blue song", "Ann"}, common...)...)
	mustRun(t, append([]string{"put", "#1:2", "red song", "Ann"}, common...)...)
	mustRun(t, append([]string{"put", "#1:3", "green song", "Bob"}, common...)...)

	// When: querying with facet counts as JSON
	out := mustRun(t, append([]string{"query", "title:song", "--option", "facets=author", "--format", "json"}, common...)...)

	// Then: every hit and the facet counts are reported
	var res queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, uint64(3), res.Total)
	assert.Len(t, res.Hits, 3)
	require.Len(t, res.Facets, 1)
	assert.Equal(t, "author", res.Facets[0].Dim)
	assert.Equal(t, map[string]uint64{"Ann": 2, "Bob": 1}, res.Facets[0].Counts)
}

func TestRootCmd_QueryLimit(t *testing.T) {
	// Given: three matching entries
	home := isolate(t)
	common := []string{"--dir", filepath.Join(home, "songs"), "--index", "songs", "--fields", "title"}
	for _, id := range []string{"#2:0", "#2:1", "#2:2"} {
		mustRun(t, append([]string{"put", id, "song"}, common...)...)
	}

	// When: limiting the printed hits
	out := mustRun(t, append([]string{"query", "song", "--limit", "2", "--format", "json"}, common...)...)

	// Then: the total still counts every match
	var res queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, uint64(3), res.Total)
	assert.Len(t, res.Hits, 2)
}

func TestRootCmd_RemoveEntryAndAll(t *testing.T) {
	// Given: two entries
	home := isolate(t)
	common := []string{"--dir", filepath.Join(home, "notes"), "--index", "notes", "--fields", "body"}
	mustRun(t, append([]string{"put", "#1:0", "red apple"}, common...)...)
	mustRun(t, append([]string{"put", "#1:1", "red cherry"}, common...)...)

	// When: removing one entry
	mustRun(t, append([]string{"remove", "#1:0", "red apple"}, common...)...)

	// Then: only the other one matches
	var res queryResult
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, append([]string{"query", "red", "-f", "json"}, common...)...)), &res))
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "#1:1", res.Hits[0].Identity)

	// When: clearing the index
	mustRun(t, append([]string{"remove", "--all"}, common...)...)

	// Then: nothing matches
	res = queryResult{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, append([]string{"query", "red", "-f", "json"}, common...)...)), &res))
	assert.Zero(t, res.Total)
	assert.Empty(t, res.Hits)
}

func TestRootCmd_ManualIndexPutIsCommitted(t *testing.T) {
	// Given: a manual index, whose writes are staged until commit
	home := isolate(t)
	common := []string{"--dir", filepath.Join(home, "manual"), "--index", "manual", "--fields", "body", "--manual"}

	// When: putting an entry through the CLI
	mustRun(t, append([]string{"put", "#4:0", "staged words"}, common...)...)

	// Then: the entry is visible to the next invocation
	out := mustRun(t, append([]string{"query", "staged", "--no-color"}, common...)...)
	assert.Contains(t, out, "#4:0")
}

func TestRootCmd_Info(t *testing.T) {
	// Given: an exact index with one entry
	home := isolate(t)
	common := []string{"--dir", filepath.Join(home, "cities"), "--index", "cities",
		"--fields", "name,population", "--type", "exact"}
	mustRun(t, append([]string{"put", "#3:1", "Bergen", "285000"}, common...)...)

	// When: asking for index information as JSON
	out := mustRun(t, append([]string{"info", "--json"}, common...)...)

	// Then: it describes the index and its contents
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "cities", info["name"])
	assert.Equal(t, "exact", info["type"])
	assert.Equal(t, true, info["automatic"])
	assert.Equal(t, float64(1), info["size"])
	assert.Equal(t, []any{"name", "population"}, info["fields"])
}

func TestRootCmd_InfoText(t *testing.T) {
	home := isolate(t)
	out := mustRun(t, "info", "--dir", filepath.Join(home, "empty"), "--index", "empty", "--fields", "body", "--no-color")

	assert.Contains(t, out, "Index empty")
	assert.Contains(t, out, "Entries:")
	assert.Contains(t, out, "fulltext")
}

func TestRootCmd_RejectsBadInput(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, "bad")

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown index type", []string{"info", "--dir", dir, "--type", "spatial"}, ixerrors.ErrCodeInvalidInput},
		{"bad option", []string{"query", "x", "--dir", dir, "--fields", "body", "--option", "novalue"}, ixerrors.ErrCodeInvalidInput},
		{"bad format", []string{"query", "x", "--dir", dir, "--fields", "body", "--format", "xml"}, ixerrors.ErrCodeInvalidInput},
		{"bad parser option", []string{"query", "x", "--dir", dir, "--fields", "body", "--option", "defaultOperator=XOR"}, ixerrors.ErrCodeConfigInvalid},
		{"missing config file", []string{"info", "--config", filepath.Join(home, "absent.yaml")}, ixerrors.ErrCodeConfigNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ixerrors.GetCode(err))
		})
	}
}

func TestParseValues(t *testing.T) {
	key, err := parseValues([]string{"Bergen"})
	require.NoError(t, err)
	assert.Equal(t, keys.String("Bergen"), key)

	key, err = parseValues([]string{"42"})
	require.NoError(t, err)
	assert.Equal(t, keys.Long(42), key)

	key, err = parseValues([]string{"Bergen", "2.5"})
	require.NoError(t, err)
	c, ok := key.(keys.Composite)
	require.True(t, ok)
	assert.Equal(t, []keys.Scalar{keys.String("Bergen"), keys.Double(2.5)}, c.Parts)
}
