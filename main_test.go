package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, dir string, port int) string {
	t.Helper()

	content := fmt.Sprintf(`
server:
  host: 127.0.0.1
  port: %d
camera:
  backend: synthetic
  width: 64
  height: 48
power:
  enabled: false
state:
  path: %s
log:
  level: error
`, port, filepath.Join(dir, "node.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_SignalShutdownClosesStore(t *testing.T) {
	dir := t.TempDir()
	port := 38911
	configPath := writeTestConfig(t, dir, port)

	exitCode := make(chan int, 1)
	go func() {
		exitCode <- run(configPath)
	}()

	// Wait for the node to come up
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case code := <-exitCode:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("node did not shut down")
	}

	// A cleanly closed WAL database leaves no -wal sidecar behind, so its
	// absence shows the store was closed before exit.
	dbPath := filepath.Join(dir, "node.db")
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
	_, err = os.Stat(dbPath + "-wal")
	assert.True(t, os.IsNotExist(err))
}
