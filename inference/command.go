package inference

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SafeCommand wraps exec.Cmd with a buffer that captures stderr so a failing
// external tool can be reported with its own output.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Wrap annotates err with the command line and the tail of captured stderr.
func (s *SafeCommand) Wrap(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(s.Stderr.String())
	if len(msg) > 2048 {
		msg = "..." + msg[len(msg)-2048:]
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", strings.Join(s.Args, " "), err)
	}
	return fmt.Errorf("%s: %w: %s", strings.Join(s.Args, " "), err, msg)
}
