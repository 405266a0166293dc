package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "automation-engine 1.2.3"))

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "1.2.3", v["version"])

	_, err = execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestFilterCheck(t *testing.T) {
	good := writeFile(t, "good.json", `{"all":[{"match":{"ticket.status":"open"}}]}`)
	ctxFile := writeFile(t, "ctx.json", `{"ticket":{"status":"open"}}`)

	out, err := execute(t, "filter", "check", good, "--context", ctxFile)
	require.NoError(t, err)
	assert.Contains(t, out, "filter is valid")
	assert.Contains(t, out, "matches: true")

	bad := writeFile(t, "bad.json", `{"any":[{"match":{"a":1}},{"all":"nope"}]}`)
	out, err = execute(t, "filter", "check", bad, "--format", "json")
	assert.Error(t, err)
	var report FilterReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Warnings)
	assert.Equal(t, "$.any[1].all", report.Warnings[0].Path)
	assert.Nil(t, report.Matches)

	negated := writeFile(t, "negated.json", `{"not":{"all":"x"}}`)
	out, err = execute(t, "filter", "check", negated, "--context", ctxFile, "--format", "json")
	assert.Error(t, err)
	report = FilterReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	require.NotNil(t, report.Matches)
	assert.False(t, *report.Matches)

	notJSON := writeFile(t, "nope.json", `{`)
	_, err = execute(t, "filter", "check", notJSON)
	assert.Error(t, err)

	_, err = execute(t, "filter", "check")
	assert.Error(t, err)
}

func TestMigrateAndSeed(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	out, err := execute(t, "migrate", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"migrated"`)

	defs := writeFile(t, "seed.yaml", `
automations:
  - name: nightly-report
    kind: scheduled
    cron_expression: "0 2 * * *"
    action_module: log
    action_payload:
      message: nightly
tasks:
  - name: cleanup
    command: noop
    cron: "*/15 * * * *"
`)
	out, err = execute(t, "seed", "-f", defs, "--format", "json")
	require.NoError(t, err)
	var report SeedReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.ElementsMatch(t, []string{"automation:nightly-report", "task:cleanup"}, report.Created)

	out, err = execute(t, "seed", "-f", defs, "--format", "json")
	require.NoError(t, err)
	report = SeedReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.Created)
	assert.Len(t, report.Updated, 2)

	_, err = execute(t, "seed")
	assert.Error(t, err)
}
