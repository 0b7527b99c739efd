package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validWorkflow = `
name: deploy
version: "1.0"
steps:
  - id: build
    name: Build
    type: script
    config:
      command: echo hi
  - id: deploy
    name: Deploy
    type: script
    dependsOn: [build]
    config:
      command: echo deployed
    retry:
      maxAttempts: 3
      initialDelayMs: 500
    rollback:
      enabled: true
      actions:
        - type: file_cleanup
          paths: ["/tmp/build"]
`

const notAWorkflow = `
model: gpt-4
tools:
  - search
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadDiscoversValidWorkflowsAndSkipsOthers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deploy.yaml", validWorkflow)
	writeFile(t, dir, "nested/agent.yaml", notAWorkflow)
	writeFile(t, dir, "broken.yaml", "name: bad\nversion: \"1\"\nsteps:\n  - id: a\n    name: A\n    type: script\n    dependsOn: [missing]\n")

	result, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "deploy", result.Workflows[0].Definition.Name)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].FilePath, "broken.yaml")
}

func TestLoadResolvesRetryAndRollback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deploy.yaml", validWorkflow)

	result, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)

	def := result.Workflows[0].Definition
	found := false
	for _, s := range def.Steps {
		if s.ID == "deploy" {
			found = true
			require.NotNil(t, s.Retry)
			assert.Equal(t, 3, s.Retry.MaxAttempts)
			assert.Equal(t, 500*time.Millisecond, s.Retry.InitialDelay)
			require.NotNil(t, s.Rollback)
			assert.True(t, s.Rollback.Enabled)
			require.Len(t, s.Rollback.Actions, 1)
			assert.Equal(t, "/tmp/build", s.Rollback.Actions[0].Paths[0])
		}
	}
	assert.True(t, found)
}

func TestCacheSetGetLRUEviction(t *testing.T) {
	c := NewCache(2, 0)
	mk := func(name string) LoadedWorkflow {
		return LoadedWorkflow{FilePath: name}
	}
	c.Set("a", mk("a.yaml"))
	c.Set("b", mk("b.yaml"))
	c.Set("c", mk("c.yaml")) // evicts "a" (least recently used)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache(0, 10*time.Millisecond)
	c.Set("a", LoadedWorkflow{FilePath: "a.yaml"})
	_, ok := c.Get("a")
	assert.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCacheByNameIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deploy.yaml", validWorkflow)
	result, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, result.Workflows, 1)

	c := NewCache(10, 0)
	c.Set(result.Workflows[0].FilePath, result.Workflows[0])

	found, ok := c.GetByName("deploy")
	require.True(t, ok)
	assert.Equal(t, "deploy", found.Definition.Name)
}

func TestCacheRefreshPreservesStats(t *testing.T) {
	c := NewCache(10, 0)
	c.Set("a", LoadedWorkflow{FilePath: "a.yaml"})
	c.Get("a")
	c.Get("missing")
	before := c.Stats()

	c.Refresh("a", LoadedWorkflow{FilePath: "a.yaml"})
	after := c.Stats()
	assert.Equal(t, before.Hits, after.Hits)
	assert.Equal(t, before.Misses, after.Misses)
}
