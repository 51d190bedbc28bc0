package child

import (
	"os/exec"
	"strings"

	"github.com/loykin/sentryd/internal/logger"
)

// Spec describes the workload to supervise.
type Spec struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`  // run command (shell string)
	WorkDir string            `json:"work_dir"` // working directory for the workload
	Env     []string          `json:"env"`      // extra KEY=VALUE pairs appended to the OS env
	PIDFile string            `json:"pid_file"` // overwritten on every spawn when set
	Log     logger.FileConfig `json:"log"`      // rotated mirror files for captured output
}

// BuildCommand constructs an *exec.Cmd for the spec's command string.
func (s *Spec) BuildCommand() *exec.Cmd {
	argv := shellArgv(s.Command)
	// #nosec G204
	return exec.Command(argv[0], argv[1:]...)
}

// shellArgv splits a command string into argv, avoiding a shell when not
// necessary. An explicit "sh -c '...'" prefix is honored without wrapping a
// second shell; metacharacters fall back to /bin/sh -c.
func shellArgv(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{"/bin/true"}
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		return []string{"/bin/sh", "-c", after}
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return []string{"/bin/sh", "-c", cmdStr}
	}
	return strings.Fields(cmdStr)
}

// parseExplicitShell detects a leading "sh -c <ARG>" (or absolute-path
// variants) and returns the argument with one layer of quoting stripped so
// redirections inside the script still parse.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
