package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Applier makes the running daemon pick up a saved configuration.
type Applier interface {
	Apply(ctx context.Context) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context) error { return f(ctx) }

// CommandApplier runs an external command, typically the init script of mbusd.
type CommandApplier struct {
	Command []string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Apply runs the command and returns its combined output on failure.
func (a *CommandApplier) Apply(ctx context.Context) error {
	if len(a.Command) == 0 {
		return errors.New("apply command is empty")
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, a.Command[0], a.Command[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	start := time.Now()
	err := cmd.Run()
	a.Logger.Debug().
		Strs("command", a.Command).
		Dur("duration", time.Since(start)).
		Msg("apply command finished")
	if err != nil {
		output := strings.TrimSpace(out.String())
		if output != "" {
			return fmt.Errorf("run %s: %w: %s", a.Command[0], err, output)
		}
		return fmt.Errorf("run %s: %w", a.Command[0], err)
	}
	return nil
}
