package deps

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"autorec/internal/config"
)

// Requirement defines an external dependency autorec relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements lists the binaries the configured capture setup needs.
func Requirements(cfg *config.Config) []Requirement {
	reqs := []Requirement{{
		Name:        "FFmpeg",
		Command:     cfg.Capture.FFmpegBinary,
		Description: "Audio capture, system audio sidecar and Opus encoding",
	}}
	if runtime.GOOS == "linux" || strings.HasSuffix(runtime.GOOS, "bsd") {
		reqs = append(reqs, Requirement{
			Name:        "wmctrl",
			Command:     "wmctrl",
			Description: "Lists shareable windows; screens only without it",
			Optional:    true,
		})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
