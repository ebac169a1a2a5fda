package execx

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rowforge/rowforge/internal/common"
)

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the parent environment when non-nil
	In   []byte   // written to stdin when non-nil
}

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	if c.In != nil {
		cmd.Stdin = bytes.NewReader(c.In)
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	log := slog.Default()
	if tid := common.TraceIDFromContext(ctx); tid != "" {
		log = log.With("trace_id", tid)
	}
	if jid := common.JobIDFromContext(ctx); jid != "" {
		log = log.With("job_id", jid)
	}

	if err != nil {
		log.Error("exec failed",
			"cmd", c.Name,
			"args", strings.Join(c.Args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10), // cap at 8KB
		)
	} else {
		log.Debug("exec ok",
			"cmd", c.Name,
			"args", strings.Join(c.Args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
