package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
browsing:
  enabled: true
search:
  enabled: true
  engine: duckduckgo
file_system:
  enabled: true
  read: true
  write: true
  delete: false
  blocked_paths: ["/etc"]
terminal:
  enabled: true
  blocked_commands: ["rm -rf"]
app_control:
  enabled: false
input_control:
  enabled: false
calendar:
  enabled: true
  read: true
  write: false
system_info:
  enabled: true
camera:
  enabled: false
  mode: off
voice:
  enabled: false
  tts_engine: none
  stt_engine: none
proactive:
  enabled: true
  max_messages_per_hour: 4
`

func writeTempPolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadValidDocument(t *testing.T) {
	path := writeTempPolicy(t, validYAML)
	e := NewEngine(nil)
	require.NoError(t, e.Load(path))

	fs, ok := e.Get("file_system")
	require.True(t, ok)
	assert.True(t, fs.Enabled)
	assert.Equal(t, []string{"/etc"}, fs.BlockedPaths)
}

func TestLoadMissingSectionFails(t *testing.T) {
	path := writeTempPolicy(t, `browsing: {enabled: true}`)
	e := NewEngine(nil)
	err := e.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search")
	assert.Contains(t, err.Error(), "file_system")
}

func TestLoadMissingFieldFails(t *testing.T) {
	bad := validYAML
	// drop file_system.write
	path := writeTempPolicy(t, `
browsing: {enabled: true}
search: {enabled: true, engine: ddg}
file_system: {enabled: true, read: true, delete: false}
terminal: {enabled: true}
app_control: {enabled: true}
input_control: {enabled: true}
calendar: {enabled: true, read: true, write: true}
system_info: {enabled: true}
camera: {enabled: true, mode: off}
voice: {enabled: true, tts_engine: x, stt_engine: y}
proactive: {enabled: true, max_messages_per_hour: 1}
`)
	e := NewEngine(nil)
	err := e.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_system.write")
	_ = bad
}

func TestReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	path := writeTempPolicy(t, validYAML)
	e := NewEngine(nil)
	require.NoError(t, e.Load(path))

	require.NoError(t, os.WriteFile(path, []byte("browsing: {enabled: true}"), 0644))
	err := e.Reload()
	require.Error(t, err)

	fs, ok := e.Get("file_system")
	require.True(t, ok)
	assert.True(t, fs.Enabled, "previous snapshot must survive a failed reload")
}

func TestReloadPicksUpChanges(t *testing.T) {
	path := writeTempPolicy(t, validYAML)
	e := NewEngine(nil)
	require.NoError(t, e.Load(path))

	term, ok := e.Get("terminal")
	require.True(t, ok)
	assert.True(t, term.Enabled)

	disabledYAML := strings.Replace(validYAML, "terminal:\n  enabled: true", "terminal:\n  enabled: false", 1)
	require.NoError(t, os.WriteFile(path, []byte(disabledYAML), 0644))
	require.NoError(t, e.Reload())

	term, ok = e.Get("terminal")
	require.True(t, ok)
	assert.False(t, term.Enabled)
}

func TestGetReturnsDefensiveCopy(t *testing.T) {
	path := writeTempPolicy(t, validYAML)
	e := NewEngine(nil)
	require.NoError(t, e.Load(path))

	fs, _ := e.Get("file_system")
	fs.BlockedPaths[0] = "/mutated"

	fs2, _ := e.Get("file_system")
	assert.Equal(t, "/etc", fs2.BlockedPaths[0])
}
