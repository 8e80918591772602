package toolworker

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// defaultServerScript is the entry point of gimp-mcp when only its checkout
// directory is configured.
const defaultServerScript = "gimp_mcp_server.py"

// Command is a fully resolved worker invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// Stderr receives the worker's diagnostics. Nil means the host's stderr.
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Process is a running worker with caller-owned pipes.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	pid      int
	wait     func() error
	kill     func() error
	waitOnce sync.Once
	waitErr  error
}

func (p *Process) PID() int {
	return p.pid
}

// Wait reaps the process. It must only be called after stdout has been drained.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		if p.wait != nil {
			p.waitErr = p.wait()
		}
	})
	return p.waitErr
}

func (p *Process) Kill() error {
	if p.kill == nil {
		return nil
	}
	return p.kill()
}

// NewPipeProcess wraps already connected streams, e.g. an in-process worker.
func NewPipeProcess(stdin io.WriteCloser, stdout io.ReadCloser, wait func() error, kill func() error) *Process {
	return &Process{Stdin: stdin, Stdout: stdout, wait: wait, kill: kill}
}

// Launcher starts a worker. The default is Launch; tests substitute fakes.
type Launcher func(ctx context.Context) (*Process, error)

// Launch starts cmd as a child process. Stdin and stdout become pipes owned by
// the caller; stderr is passed through for diagnostics.
func Launch(_ context.Context, cmd Command) (*Process, error) {
	if strings.TrimSpace(cmd.Path) == "" {
		return nil, &SpawnError{Command: cmd.String(), Err: errors.New("no worker command configured")}
	}
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	env := append([]string{}, os.Environ()...)
	env = append(env, "PYTHONUNBUFFERED=1")
	c.Env = append(env, cmd.Env...)
	c.Stderr = cmd.Stderr
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}
	if err := c.Start(); err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}
	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		pid:    c.Process.Pid,
		wait:   c.Wait,
		kill:   c.Process.Kill,
	}, nil
}

// ResolveCommand turns an entry-point path into a command. A gimp-mcp checkout
// directory or a .py script runs under uv when it is installed, else python3.
// Anything else is executed directly.
func ResolveCommand(entry string) (Command, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Command{}, errors.New("tool worker path not configured")
	}
	info, err := os.Stat(entry)
	if err != nil {
		return Command{}, err
	}
	dir, script := "", ""
	switch {
	case info.IsDir():
		dir, script = entry, defaultServerScript
	case strings.HasSuffix(strings.ToLower(entry), ".py"):
		dir, script = filepath.Dir(entry), filepath.Base(entry)
	default:
		return Command{Path: entry}, nil
	}
	if uv, err := exec.LookPath("uv"); err == nil {
		return Command{Path: uv, Args: []string{"run", "--directory", dir, script}}, nil
	}
	python, err := resolvePython()
	if err != nil {
		return Command{}, err
	}
	return Command{Path: python, Args: []string{"-u", filepath.Join(dir, script)}, Dir: dir}, nil
}

func resolvePython() (string, error) {
	if path, err := exec.LookPath("python3"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("python"); err == nil {
		return path, nil
	}
	return "", errors.New("python not found in PATH")
}

// CommandLauncher launches cmd on every call.
func CommandLauncher(cmd Command) Launcher {
	return func(ctx context.Context) (*Process, error) {
		return Launch(ctx, cmd)
	}
}
