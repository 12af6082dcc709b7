package workers

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ExecSpawner starts a program, by default the running executable, with
// extra arguments appended to Args.
type ExecSpawner struct {
	Path string
	Args []string
	Env  []string
	// Stdout and Stderr default to the parent's.
	Stdout, Stderr io.Writer
}

// Spawn implements Spawner.
func (s ExecSpawner) Spawn(ctx context.Context, args []string) (Process, error) {
	bin := s.Path
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		bin = exe
	}
	cmd := exec.CommandContext(ctx, bin, append(append([]string(nil), s.Args...), args...)...)
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// The pipe exists before the child does, so the child never sees the
	// parent's stdin.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("closing child stdin: %w", err)
	}
	return execProcess{cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Pid() int { return p.cmd.Process.Pid }

func (p execProcess) Wait() error {
	err := p.cmd.Wait()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	return err
}
