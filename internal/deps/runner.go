package deps

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner запускает внешний процесс и возвращает его вывод
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner запускает процессы через os/exec
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run запускает команду; процесс убивается при отмене ctx
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
