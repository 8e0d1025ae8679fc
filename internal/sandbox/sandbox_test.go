package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/orionmind/internal/policy"
)

const testPolicyYAML = `
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
  require_confirm: true
  blocked_commands: ["rm -rf"]
app_control:
  enabled: true
  allowed_apps: ["calculator"]
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

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testPolicyYAML), 0644))

	p := policy.NewEngine(nil)
	require.NoError(t, p.Load(path))
	return New(p, nil)
}

func TestCheckUnknownAction(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(Action("nonsense"), nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, "unknown action", d.Reason)
}

func TestCheckFileWriteBlockedPath(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionFileWrite, map[string]string{"path": "/etc/hosts"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "blocked_paths")
}

func TestCheckFileWriteAllowedPath(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionFileWrite, map[string]string{"path": "/tmp/note.txt"})
	assert.True(t, d.Allowed)
}

func TestCheckFileDeleteDisabled(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionFileDelete, map[string]string{"path": "/tmp/x"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "delete disabled")
}

func TestCheckTerminalBlockedCommand(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionTerminalRun, map[string]string{"command": "rm -rf /"})
	assert.False(t, d.Allowed)
}

func TestCheckTerminalRequiresConfirm(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionTerminalRun, map[string]string{"command": "ls"})
	assert.True(t, d.Allowed)
	assert.True(t, d.RequiresConfirm)
}

func TestCheckAppOpenNotAllowed(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionAppOpen, map[string]string{"app": "Terminal"})
	assert.False(t, d.Allowed)
}

func TestCheckAppOpenAllowedCaseInsensitive(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionAppOpen, map[string]string{"app": "Calculator"})
	assert.True(t, d.Allowed)
}

func TestCheckSectionDisabled(t *testing.T) {
	s := newTestSandbox(t)
	d := s.Check(ActionInputControl, nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, "section disabled", d.Reason)
}

func TestCheckIsPureFunctionOfSnapshot(t *testing.T) {
	s := newTestSandbox(t)
	d1 := s.Check(ActionFileWrite, map[string]string{"path": "/tmp/a"})
	d2 := s.Check(ActionFileWrite, map[string]string{"path": "/tmp/a"})
	assert.Equal(t, d1, d2)
}

type fakeConfirmer struct {
	reply   *string
	err     error
	timeout bool
}

func (f *fakeConfirmer) SendAndAwaitReply(ctx context.Context, recipient, text string, timeout time.Duration) (*string, error) {
	if f.timeout {
		return nil, nil
	}
	return f.reply, f.err
}

func TestRequestConfirmYes(t *testing.T) {
	s := newTestSandbox(t)
	yes := "yes"
	c := &fakeConfirmer{reply: &yes}
	ok := s.RequestConfirm(context.Background(), c, "owner", ActionTerminalRun, map[string]string{"command": "ls"}, time.Second)
	assert.True(t, ok)
}

func TestRequestConfirmNoOnTimeout(t *testing.T) {
	s := newTestSandbox(t)
	c := &fakeConfirmer{timeout: true}
	ok := s.RequestConfirm(context.Background(), c, "owner", ActionTerminalRun, nil, time.Second)
	assert.False(t, ok)
}

func TestRequestConfirmNoOnNoReply(t *testing.T) {
	s := newTestSandbox(t)
	no := "no"
	c := &fakeConfirmer{reply: &no}
	ok := s.RequestConfirm(context.Background(), c, "owner", ActionTerminalRun, nil, time.Second)
	assert.False(t, ok)
}

func TestRequestConfirmNoOnTransportFailure(t *testing.T) {
	s := newTestSandbox(t)
	c := &fakeConfirmer{err: assertError{}}
	ok := s.RequestConfirm(context.Background(), c, "owner", ActionTerminalRun, nil, time.Second)
	assert.False(t, ok)
}

type assertError struct{}

func (assertError) Error() string { return "transport failure" }
