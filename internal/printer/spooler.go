package printer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExecSpooler reads the device status through an external helper that prints
// the raw Win32 status bitmask for a printer name. Keeping the spooler query
// behind a command keeps this package portable.
type ExecSpooler struct {
	Command string
}

// Status runs the helper and parses the bitmask from stdout. Decimal and 0x
// hexadecimal outputs are accepted.
func (e *ExecSpooler) Status(ctx context.Context, printerName string) (uint32, error) {
	cmd := exec.CommandContext(ctx, e.Command, printerName)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("query spooler: %w: %s", err, stderr.String())
	}

	raw := strings.TrimSpace(stdout.String())
	value, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), parseBase(raw), 32)
	if err != nil {
		return 0, fmt.Errorf("spooler output %q: %w", raw, err)
	}
	return uint32(value), nil
}

func parseBase(raw string) int {
	if strings.HasPrefix(raw, "0x") {
		return 16
	}
	return 10
}
