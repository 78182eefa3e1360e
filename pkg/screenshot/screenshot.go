// Package screenshot captures the host display by shelling out to whichever
// platform tool is available.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Capturer writes screenshots into its directory and returns the image path.
type Capturer struct {
	dir string
}

func NewCapturer(dir string) *Capturer {
	return &Capturer{dir: dir}
}

func (c *Capturer) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.dir, fmt.Sprintf("screenshot-%d.png", time.Now().Unix()))

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "screencapture", "-x", path)
	case "linux":
		if _, err := exec.LookPath("grim"); err == nil {
			cmd = exec.CommandContext(ctx, "grim", path)
		} else if _, err := exec.LookPath("scrot"); err == nil {
			cmd = exec.CommandContext(ctx, "scrot", path)
		} else {
			cmd = exec.CommandContext(ctx, "import", "-window", "root", path)
		}
	default:
		return "", fmt.Errorf("screenshot not supported on %s", runtime.GOOS)
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("screenshot tool: %w (%s)", err, string(out))
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("screenshot tool produced no file: %w", err)
	}
	return path, nil
}
