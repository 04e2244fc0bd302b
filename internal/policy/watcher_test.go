package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	origDebounce := debounceWrite
	debounceWrite = 10 * time.Millisecond
	t.Cleanup(func() { debounceWrite = origDebounce })

	b := validBundle()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Stop()

	b.Version = "2.0.0"
	data, err = json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Eventually(t, func() bool {
		return w.Current().Version == "2.0.0"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNewWatcherRejectsInvalidInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewWatcher(path)
	require.Error(t, err)
}
