package builder

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/msln-build/msln/internal/msg"
)

const (
	testPrefix    = "test_"
	testExtension = ".uxx"
	hiddenSuffix  = ".hidden"
)

// Test compiles any stale test executables and runs all of them.
func (p *Project) Test() error {
	if err := p.buildTests(); err != nil {
		return err
	}
	return p.runTests()
}

// buildTests compiles and links every candidate in the tests directory as a
// standalone translation unit against the project's output artifact and its
// interface maps. Recompiles only when the test source is stale against its
// own object; relinks when the compile just happened or the project output is
// newer than the test binary.
func (p *Project) buildTests() error {
	if _, err := os.Stat(p.TestsDir); err != nil {
		return nil
	}

	entries, err := os.ReadDir(p.TestsDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		testName := strings.TrimSuffix(entry.Name(), ext)
		if !strings.HasPrefix(testName, testPrefix) || ext != testExtension {
			fmt.Printf(":> Skipping %s from tests directory\n", entry.Name())
			continue
		}
		if strings.HasSuffix(testName, hiddenSuffix) {
			fmt.Printf(":> Skipping %s from tests directory (hidden)\n", entry.Name())
			continue
		}

		uxx := filepath.Join(p.TestsDir, entry.Name())
		obj := filepath.Join(p.cacheDir, testName+".obj")
		pdb := filepath.Join(p.BuildDir, testName+".pdb")
		exe := filepath.Join(p.BuildDir, testName+".exe")

		fmt.Printf(":BUILD> %s::%s\n", p.Name, testName)

		forceLink := false
		stale, err := shouldRebuild(uxx, obj)
		if err != nil {
			return err
		}
		if stale {
			cmd := []string{toolCompiler, cflagLinkless}
			cmd = append(cmd, p.Config.CompilerArgs()...)
			cmd = append(cmd, p.commonFlags()...)
			cmd = append(cmd, p.ifcMaps.CompilerArgs()...)
			if _, err := os.Stat(p.IfcMapFile()); err == nil {
				cmd = append(cmd, ifcFlagMap, p.IfcMapFile())
			}
			cmd = append(cmd, ifcFlagTranslationUnit, uxx)
			cmd = append(cmd, cflagObjPath+obj, cflagPdbPath+pdb, cflagExePath+exe)
			if _, err := p.exec.Execute(cmd...); err != nil {
				return err
			}
			forceLink = true
		}

		relink := forceLink
		if !relink {
			relink, err = shouldRebuild(p.OutputFile(), exe)
			if err != nil {
				return err
			}
		}
		if relink {
			cmd := []string{toolLinker}
			cmd = append(cmd, p.Config.LinkerArgs()...)
			cmd = append(cmd, obj)
			if p.Kind == Archive {
				cmd = append(cmd, p.OutputFile())
			}
			cmd = append(cmd, "/PDB:"+pdb, "/OUT:"+exe)
			if _, err := p.exec.Execute(cmd...); err != nil {
				return err
			}
			fmt.Printf(":BUILT> %s::%s\n", p.Name, testName)
		} else {
			fmt.Printf(":> Not building %s::%s (no changes).\n", p.Name, testName)
		}
	}

	fmt.Println("---")
	return nil
}

// runTests executes every built test binary as a child process, streaming its
// output. A failing test is recorded; the remaining tests still run.
func (p *Project) runTests() error {
	entries, err := os.ReadDir(p.BuildDir)
	if err != nil {
		return err
	}

	var failed []string
	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), testPrefix) || filepath.Ext(entry.Name()) != ".exe" {
			continue
		}
		total++

		testName := strings.TrimSuffix(entry.Name(), ".exe")
		fmt.Printf("TEST %s::%s\n", p.Name, testName)

		if err := p.runTest(filepath.Join(p.BuildDir, entry.Name())); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				fmt.Printf(":exitcode> %d\n", exitErr.ExitCode())
				msg.Error("TEST %s::%s: FAILED", p.Name, testName)
				failed = append(failed, testName)
				continue
			}
			return err
		}
		fmt.Println(":exitcode> 0")
		fmt.Printf("TEST %s::%s: SUCCESS\n\n", p.Name, testName)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d tests failed: %s", len(failed), total, strings.Join(failed, ", "))
	}
	return nil
}

func (p *Project) runTest(exe string) error {
	stdout := &msg.LineWriter{Prefix: ":stdout> ", W: os.Stdout}
	stderr := &msg.LineWriter{Prefix: ":stderr> ", Color: color.New(color.FgRed), W: os.Stdout}
	defer stdout.Flush()
	defer stderr.Flush()

	cmd := exec.Command(exe)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
