package priors

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
	path := filepath.Join(dir, "priors.json")
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Stop()

	require.Equal(t, "1.0.0", w.Current().Version)

	b.Version = "1.1.0"
	data, err = json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Eventually(t, func() bool {
		return w.Current().Version == "1.1.0"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsPreviousBundleOnInvalidReload(t *testing.T) {
	origDebounce := debounceWrite
	debounceWrite = 10 * time.Millisecond
	t.Cleanup(func() { debounceWrite = origDebounce })

	b := validBundle()
	dir := t.TempDir()
	path := filepath.Join(dir, "priors.json")
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	time.Sleep(100 * time.Millisecond)

	require.Equal(t, "1.0.0", w.Current().Version)
}

func TestNewWatcherRejectsInvalidInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priors.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewWatcher(path)
	require.Error(t, err)
}
