package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scopesignal/internal/classify"
	"github.com/sells-group/scopesignal/internal/config"
	"github.com/sells-group/scopesignal/internal/evaluate"
	"github.com/sells-group/scopesignal/internal/model"
)

const contestableJSON = `{"classification":"CONTESTABLE","confidence":82,"reasoning":"Open public RFP","risk_note":"None","recommended_action":"Bid","trade_relevant":true}`

type staticCompleter struct{ response string }

func (s staticCompleter) Complete(context.Context, classify.Prompt) (string, error) {
	return s.response, nil
}

func (staticCompleter) ModelInfo() string { return "test/static" }

// useTestConfig loads defaults from an empty temp dir with an in-memory cache.
func useTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	t.Setenv("SCOPESIGNAL_CACHE_DRIVER", "memory")
	t.Setenv("SCOPESIGNAL_LOG_LEVEL", "error")

	c, err := config.Load()
	require.NoError(t, err)
	cfg = c
	return dir
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const profileYAML = `
insurance:
  general_liability: 2
  auto_liability: 1
  workers_comp: 1
  umbrella: 5
licenses:
  - type: Master Electrician
    status: active
    expiry: "2099-12-31"
`

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"classify", "score", "batch", "evaluate", "cache", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "scopesignal", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCacheCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"stats", "clear", "purge"} {
		assert.True(t, names[name], "expected cache subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	for _, name := range []string{"text", "trade", "agency", "profile", "output"} {
		assert.NotNil(t, classifyCmd.Flags().Lookup(name), "classify --%s", name)
	}
	assert.NotNil(t, batchCmd.Flags().Lookup("input"))
	assert.NotNil(t, evaluateCmd.Flags().Lookup("dataset"))

	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestScoreCommand_FromFlags(t *testing.T) {
	dir := useTestConfig(t)
	resetFlags(scoreCmd)
	profile := writeFile(t, dir, "profile.yaml", profileYAML)

	out, err := execute(t, "score",
		"--classification", "CONTESTABLE", "--confidence", "82",
		"--trade", "electrical", "--agency", "SCA", "--profile", profile)
	require.NoError(t, err, out)

	var f model.FeasibilityResult
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	assert.True(t, f.CanBid)
	assert.Equal(t, 82.0, f.FeasibilityScore)
	assert.Equal(t, "SCA", f.Agency)
}

func TestScoreCommand_FromResultFile(t *testing.T) {
	dir := useTestConfig(t)
	resetFlags(scoreCmd)
	profile := writeFile(t, dir, "profile.yaml", profileYAML)
	result := writeFile(t, dir, "result.json", `{"result":`+contestableJSON+`,"proof":{}}`)
	output := filepath.Join(dir, "score.json")

	_, err := execute(t, "score", "--result", result, "--trade", "Plumbing",
		"--profile", profile, "--as-of", "2026-01-15", "--output", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var f model.FeasibilityResult
	require.NoError(t, json.Unmarshal(data, &f))
	assert.False(t, f.CanBid, "an electrician's license does not cover plumbing")
	assert.False(t, f.ComplianceReadiness.License)
	assert.Equal(t, "DDC", f.Agency, "config default agency")
}

func TestScoreCommand_InvalidResult(t *testing.T) {
	dir := useTestConfig(t)
	resetFlags(scoreCmd)
	profile := writeFile(t, dir, "profile.yaml", profileYAML)

	_, err := execute(t, "score", "--classification", "MAYBE", "--trade", "HVAC", "--profile", profile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid classification result")
}

func TestCacheCommands_SQLite(t *testing.T) {
	dir := useTestConfig(t)
	t.Setenv("SCOPESIGNAL_CACHE_DRIVER", "sqlite")
	t.Setenv("SCOPESIGNAL_CACHE_PATH", filepath.Join(dir, "cache.db"))

	out, err := execute(t, "cache", "stats")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"backend": "sqlite"`)
	assert.Contains(t, out, `"entry_count": 0`)

	out, err = execute(t, "cache", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, `"removed": 0`)

	out, err = execute(t, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, `"removed": 0`)
}

func TestNewEnv_ClassifiesAndCaches(t *testing.T) {
	useTestConfig(t)
	env, err := newEnv(context.Background(), staticCompleter{response: contestableJSON})
	require.NoError(t, err)
	defer env.Close()

	req := model.ClassificationRequest{Text: "RFP for panel upgrades", Trade: model.TradeElectrical}
	_, first, err := env.Engine.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	_, second, err := env.Engine.Classify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)

	assert.Equal(t, "closed", env.Breaker.State().String())
}

func TestNewEnv_AgencyTables(t *testing.T) {
	dir := useTestConfig(t)
	cfg.Compliance.AgencyTablePath = writeFile(t, dir, "tables.yaml", "agencies: [not, a, map]")

	_, err := newEnv(context.Background(), staticCompleter{response: contestableJSON})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load agency tables")
}

func TestEnvJanitor(t *testing.T) {
	useTestConfig(t)
	env, err := newEnv(context.Background(), staticCompleter{response: contestableJSON})
	require.NoError(t, err)

	env.startJanitor(context.Background(), 10*time.Millisecond)
	env.startJanitor(context.Background(), 10*time.Millisecond)
	done := make(chan struct{})
	go func() {
		env.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the janitor")
	}
}

func TestInitEnv_RequiresKey(t *testing.T) {
	useTestConfig(t)
	cfg.Anthropic.Key = ""
	_, err := initEnv(context.Background(), "classify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestLoadBatchItems(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "items.json", `[
		{"id": "a", "text": "RFP", "trade": "hvac", "agency": "SCA"},
		{"id": "b", "text": "Bid", "trade": "Roofing", "profile": {"insurance": {"umbrella": 2}, "licenses": []}}
	]`)

	items, err := loadBatchItems(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.TradeHVAC, items[0].Request.Trade)
	assert.Nil(t, items[0].Profile)
	assert.Equal(t, model.Trade("Roofing"), items[1].Request.Trade)
	require.NotNil(t, items[1].Profile)
	assert.Equal(t, 2.0, items[1].Profile.Insurance["umbrella"])

	_, err = loadBatchItems(writeFile(t, dir, "bad.json", `{`))
	assert.Error(t, err)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	p, err := loadProfile(writeFile(t, dir, "p.yaml", profileYAML))
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.Insurance["umbrella"])
	require.Len(t, p.Licenses, 1)
	assert.Equal(t, "2099-12-31", p.Licenses[0].Expiry)

	j, err := loadProfile(writeFile(t, dir, "p.json", `{"insurance": {"umbrella": 3}, "licenses": [{"type": "HVAC License", "status": "active", "expiry": "2030-01-01"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3.0, j.Insurance["umbrella"])

	_, err = loadProfile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintMetrics(t *testing.T) {
	m := evaluate.Compute([]evaluate.Prediction{
		{ID: "a", Actual: model.ClassificationClosed, Expected: model.ClassificationClosed, Confidence: 90},
		{ID: "b", Actual: model.ClassificationSoftOpen, Expected: model.ClassificationClosed, Confidence: 60},
	})
	var buf bytes.Buffer
	require.NoError(t, printMetrics(&buf, m))

	out := buf.String()
	assert.Contains(t, out, "Accuracy")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "mismatches")
	assert.True(t, strings.Contains(out, "expected CLOSED"))
}
