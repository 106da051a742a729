// Package recognizer shells out to the slider-gap recognition model. The
// model is an opaque oracle: image path in, bounding box out.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/Lvvv7/Intelligent-certificate/internal/captcha"
)

// Exec invokes an external recognizer command with the image path as its
// only argument. The command prints JSON on stdout:
//
//	{"box": [x, y, w, h]}
//
// A null or absent box means the gap was not located.
type Exec struct {
	Command string
}

type execOutput struct {
	Box []float64 `json:"box"`
}

// Identify runs the recognizer against the image at path.
func (e *Exec) Identify(ctx context.Context, path string) (captcha.Box, bool, error) {
	cmd := exec.CommandContext(ctx, e.Command, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return captcha.Box{}, false, fmt.Errorf("recognizer: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return captcha.Box{}, false, fmt.Errorf("recognizer output: %w", err)
	}
	if len(out.Box) < 1 {
		return captcha.Box{}, false, nil
	}

	box := captcha.Box{X: out.Box[0]}
	if len(out.Box) >= 4 {
		box.Y, box.W, box.H = out.Box[1], out.Box[2], out.Box[3]
	}
	return box, true, nil
}
