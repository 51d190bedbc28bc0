package child

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShellArgv(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{"/bin/true"}},
		{"plain", "npm run start", []string{"npm", "run", "start"}},
		{"metachars", "echo hi > /tmp/out", []string{"/bin/sh", "-c", "echo hi > /tmp/out"}},
		{"explicit shell", "sh -c 'echo hi'", []string{"/bin/sh", "-c", "echo hi"}},
		{"explicit abs shell", "/bin/sh -c \"sleep 1\"", []string{"/bin/sh", "-c", "sleep 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shellArgv(tt.in))
		})
	}
}

func TestBuildCommandWorkDir(t *testing.T) {
	spec := Spec{Name: "w", Command: "sleep 10", WorkDir: "/tmp"}
	cmd := spec.BuildCommand()
	assert.Contains(t, cmd.Path, "sleep")
	assert.Equal(t, []string{"sleep", "10"}, cmd.Args)
}
