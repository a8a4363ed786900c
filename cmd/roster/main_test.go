package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rosterhq/rostersync/internal/roster"
)

// run executes the CLI in-process and returns what it wrote to stdout.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestRosterSaveLoadStatus(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("gold.json", []byte(`[{"id":"a1","name":"Ana","xp":40}]`), 0644))
	device := []string{"--local", "sqlite", "--local-path", "local.db", "--remote", "none"}

	out := run(t, append([]string{"roster", "save", "gold", "--file", "gold.json", "-o", "json"}, device...)...)
	var report writeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "roster-gold", report.Key)
	assert.Equal(t, "local-only", report.Status)

	out = run(t, append([]string{"roster", "load", "gold", "-o", "json"}, device...)...)
	var f roster.File
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	require.Len(t, f.Athletes, 1)
	assert.Equal(t, "Ana", f.Athletes[0].Name)
	assert.Equal(t, "gold", f.Athletes[0].Group)

	out = run(t, append([]string{"status", "-o", "json"}, device...)...)
	var status statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "default", status.Org)
	assert.Equal(t, map[string]int{"gold": 1}, status.Rosters)
	assert.Nil(t, status.Reachable)
}

func TestConfigSetGet(t *testing.T) {
	t.Chdir(t.TempDir())
	device := []string{"--local", "sqlite", "--local-path", "local.db", "--remote", "none"}

	run(t, append([]string{"config", "set", "culture", `{"motto":"show up"}`, "-o", "json"}, device...)...)
	out := run(t, append([]string{"config", "get", "culture", "-o", "yaml"}, device...)...)

	var v map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &v))
	assert.Equal(t, "show up", v["motto"])
}

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 3, 18, 15, 0, 0, 0, time.UTC) // a Wednesday

	tests := []struct {
		in   string
		want string
	}{
		{"", "2026-03-18"},
		{"2025-12-31", "2025-12-31"},
		{"today", "2026-03-18"},
		{"yesterday", "2026-03-17"},
		{"tomorrow", "2026-03-19"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseDate("whenever", now)
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, "0042", parseValue("pin", "0042"))
	assert.Equal(t, "plain words", parseValue("culture", "plain words"))
	assert.Equal(t, float64(3), parseValue("challenges", "3"))
	assert.Equal(t, []any{"ana", "ben"}, parseValue("coaches", `["ana","ben"]`))
}

func TestValidatePin(t *testing.T) {
	assert.NoError(t, validatePin("0042"))
	assert.NoError(t, validatePin("12345678"))
	assert.Error(t, validatePin("123"))
	assert.Error(t, validatePin("123456789"))
	assert.Error(t, validatePin("12a4"))
}

func TestReadSchedule(t *testing.T) {
	path := t.TempDir() + "/gold.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
sessions:
  - day: Monday
    start: "17:00"
    end: "18:30"
    location: Pool A
`), 0644))

	s, err := readSchedule(path)
	require.NoError(t, err)
	require.Len(t, s.Sessions, 1)
	assert.Equal(t, "monday", s.Sessions[0].Day)
	assert.Equal(t, "Pool A", s.Sessions[0].Location)

	require.NoError(t, os.WriteFile(path, []byte(`{"sessions":[{"end":"18:00"}]}`), 0644))
	_, err = readSchedule(path)
	assert.Error(t, err)
}
