package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlist/pkg/config"
	"shortlist/pkg/persistence"
	"shortlist/pkg/workflow"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"  a quiet kettle  ", command{text: "a quiet kettle"}},
		{"/choose confirm", command{name: "choose", args: []string{"confirm"}, text: "/choose confirm"}},
		{"/EXPORT out.csv", command{name: "export", args: []string{"out.csv"}, text: "/EXPORT out.csv"}},
		{"/table", command{name: "table", args: []string{}, text: "/table"}},
		{"/", command{text: "/"}},
		{"", command{text: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}

func TestChoiceHint(t *testing.T) {
	hint := choiceHint([]workflow.Choice{workflow.ChoiceEnrichNow, workflow.ChoiceModifyFields})
	assert.Equal(t, "/choose enrich-now or /choose modify-fields", hint)
}

func TestWriteExport(t *testing.T) {
	dir := t.TempDir()
	path, err := writeExport("0123456789abcdef", filepath.Join(dir, "out.csv"), "Name,Price\nA,£10\n")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Name,Price\nA,£10\n", string(data))
}

func TestLoadKnowledge(t *testing.T) {
	dir := t.TempDir()
	kb, err := loadKnowledge(dir)
	require.NoError(t, err)
	assert.Nil(t, kb, "missing file keeps built-in knowledge")

	require.NoError(t, os.WriteFile(filepath.Join(dir, knowledgeFile), []byte("categories: [not: valid"), 0o644))
	_, err = loadKnowledge(dir)
	assert.Error(t, err)
}

func TestConfigInitWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--dir", dir})
	require.NoError(t, root.Execute())

	path := filepath.Join(dir, config.StateDirName, config.ConfigFileName)
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), path)

	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--dir", dir})
	assert.ErrorContains(t, root.Execute(), "already exists")
}

func TestSessionsNeedsSQLite(t *testing.T) {
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
	t.Setenv("SHORTLIST_STORE", config.StoreMemory)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"sessions", "--dir", t.TempDir()})
	assert.ErrorIs(t, root.Execute(), errNoSQLite)
}

func TestPrintSessions(t *testing.T) {
	ctx := context.Background()
	db, err := persistence.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewSessionStore(db)

	var out bytes.Buffer
	require.NoError(t, printSessions(ctx, &out, store, 10))
	assert.Contains(t, out.String(), "No stored sessions.")

	s := workflow.NewSession("sess-42", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.Phase = workflow.PhaseResearch
	s.Version = 1
	s.Requirements.ProductType = "toaster"
	require.NoError(t, store.Save(ctx, s, 0))

	out.Reset()
	require.NoError(t, printSessions(ctx, &out, store, 10))
	assert.Contains(t, out.String(), "sess-42")
	assert.Contains(t, out.String(), "toaster")
	assert.Contains(t, out.String(), string(workflow.PhaseResearch))

	assert.ErrorIs(t, printSessions(ctx, &out, nil, 10), errNoSQLite)
}
