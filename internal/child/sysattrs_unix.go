//go:build !windows

package child

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

// sysProcAttr places the workload in its own process group so the whole tree
// can be signalled together.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// aliveProbe checks liveness with signal 0. On Linux a quickly-exiting child
// lingers as a zombie until reaped; treat that as not alive.
func aliveProbe(pid int) bool {
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
