package child

import (
	"os"
	"path/filepath"
	"strconv"
)

// WritePIDFile records the workload pid at the configured well-known path,
// overwriting any previous instance's entry. Best effort.
func (c *Child) WritePIDFile() {
	c.mu.Lock()
	pidFile := c.spec.PIDFile
	pid := c.pid
	c.mu.Unlock()

	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600)
}

// RemovePIDFile deletes the PID file. Best effort.
func (c *Child) RemovePIDFile() {
	c.mu.Lock()
	pidFile := c.spec.PIDFile
	c.mu.Unlock()

	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}
