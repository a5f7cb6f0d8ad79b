package builder

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/msln-build/msln/internal/msg"
)

// Executor runs a toolchain command line and returns its captured output.
// The core never inspects toolchain output itself; error-marker sniffing is
// confined to this boundary.
type Executor interface {
	Execute(args ...string) (string, error)
}

// ErrCompileFailed is reported when the toolchain's captured output contains
// its error marker.
var ErrCompileFailed = errors.New("toolchain reported errors")

const (
	msvcBanner  = "Microsoft (R)"
	errorMarker = "error C"
)

// ShellExecutor joins command tokens and executes them as a shell command
// line. When CL.EXE is not already on PATH it runs inside a Visual Studio
// developer environment located via vssetup (see msvc.go).
type ShellExecutor struct {
	devCmd   string
	resolved bool
}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

// resolveEnv decides, once, whether commands need the VsDevCmd.bat prefix.
func (e *ShellExecutor) resolveEnv() error {
	if e.resolved {
		return nil
	}
	e.resolved = true

	if _, err := exec.LookPath("CL.EXE"); err == nil {
		return nil // already inside a developer prompt
	}
	devCmd, err := findDevCmd()
	if err != nil {
		return fmt.Errorf("CL.EXE is not on PATH and no Visual Studio installation was found: %w", err)
	}
	e.devCmd = devCmd
	return nil
}

func (e *ShellExecutor) Execute(args ...string) (string, error) {
	if err := e.resolveEnv(); err != nil {
		return "", err
	}

	cmdline := strings.Join(args, " ")
	fmt.Printf("%s %s\n", color.HiCyanString(":MSVC>"), cmdline)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		if e.devCmd != "" {
			cmdline = fmt.Sprintf(`"%s" -arch=amd64 >NUL && %s`, e.devCmd, cmdline)
		}
		cmd = exec.Command("cmd", "/C", cmdline)
	} else {
		cmd = exec.Command("sh", "-c", cmdline)
	}

	raw, _ := cmd.CombinedOutput()
	return parseToolOutput(string(raw))
}

// parseToolOutput strips the MSVC banner, echoes any remaining output and
// checks it for the compiler's error marker.
func parseToolOutput(raw string) (string, error) {
	out := strings.TrimSpace(raw)
	if strings.HasPrefix(out, msvcBanner) {
		lines := strings.Split(out, "\n")
		if len(lines) > 2 {
			out = strings.Join(lines[2:], "\n")
		} else {
			out = ""
		}
	}

	if out != "" {
		iw := &msg.IndentWriter{Indent: "  ", W: os.Stdout}
		fmt.Fprintln(iw, "[stdout]", out)
		if strings.Contains(out, errorMarker) {
			return out, fmt.Errorf("%w:\n%s", ErrCompileFailed, out)
		}
	}
	return out, nil
}
