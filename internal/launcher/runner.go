package launcher

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner starts a process and waits for it to exit.
type Runner interface {
	// Run executes name with args. started is false when the process could
	// not be started at all, which lets the caller try another interpreter.
	Run(ctx context.Context, name string, args []string) (exitCode int, started bool, err error)
}

// ExecRunner runs processes with os/exec. Processes are never killed: the
// context only matters before a process starts.
type ExecRunner struct {
	// Dir is the working directory processes run in. Empty means the
	// current directory.
	Dir string

	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args []string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return -1, false, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return -1, false, err
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true, err
	}
	if err != nil {
		return -1, true, err
	}
	return 0, true, nil
}

// Available reports whether an interpreter candidate can be used: a path
// containing a separator must exist (relative to the runner's Dir), a bare
// name must resolve on PATH.
func (r ExecRunner) Available(candidate string) bool {
	if !strings.ContainsAny(candidate, `/\`) {
		_, err := exec.LookPath(candidate)
		return err == nil
	}
	p := candidate
	if !filepath.IsAbs(p) && r.Dir != "" {
		p = filepath.Join(r.Dir, p)
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
