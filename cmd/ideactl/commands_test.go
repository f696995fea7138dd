package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("REDIS_ADDR", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  data_dir: " + filepath.Join(dir, "data") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Definition(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "ideactl", root.Use)

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range []string{"repair-scores", "recompute-influence", "backfill-embeddings", "set-challenge"} {
		assert.True(t, names[name], "%s subcommand should exist", name)
	}
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRepairScores_DryRun(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "--config", path, "repair-scores", "--dry-run", "--limit", "10")
	require.NoError(t, err)

	var report struct {
		Scanned int  `json:"scanned"`
		DryRun  bool `json:"dry_run"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.True(t, report.DryRun)
	assert.Zero(t, report.Scanned)
}

func TestRecomputeInfluence_EmptyLedger(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "--config", path, "recompute-influence")
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":0}`, out)
}

func TestBackfillEmbeddings_RequiresAI(t *testing.T) {
	path := writeConfig(t)

	_, err := execute(t, "--config", path, "backfill-embeddings")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIGURATION")
}

func TestSetChallenge(t *testing.T) {
	path := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "valid", args: []string{"--date", "2026-10-19", "--keyword", "solar"}},
		{name: "bad date", args: []string{"--date", "19/10/2026", "--keyword", "solar"}, wantErr: true},
		{name: "missing keyword", args: []string{"--date", "2026-10-19"}, wantErr: true},
		{name: "missing date", args: []string{"--keyword", "solar"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--config", path, "set-challenge"}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, `"keyword": "solar"`)
		})
	}
}
