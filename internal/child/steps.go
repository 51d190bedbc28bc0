package child

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// RunStep runs a one-shot command (install or build step) to completion in
// workdir with the extra env appended. A non-zero exit is returned as an
// error carrying the tail of the combined output.
func RunStep(ctx context.Context, command, workdir string, env []string) error {
	argv := shellArgv(command)
	// #nosec G204
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if workdir != "" {
		cmd.Dir = workdir
	}
	cmd.Env = append(os.Environ(), env...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("step %q: %w: %s", command, err, tail(buf.Bytes(), 512))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(bytes.TrimSpace(b))
}
