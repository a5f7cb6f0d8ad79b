package builder

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildTests_DiscoversOnlyMatchingSources(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	require.NoError(t, p.Build())

	require.NoError(t, os.MkdirAll(p.TestsDir, 0755))
	writeSource(t, p.TestsDir, "test_api.uxx", "import api; int main() {}")
	writeSource(t, p.TestsDir, "helper.txt", "notes")
	writeSource(t, p.TestsDir, "api_check.uxx", "int main() {}")
	writeSource(t, p.TestsDir, "test_flaky.hidden.uxx", "int main() {}")

	before := len(exec.commands)
	require.NoError(t, p.buildTests())

	// one compile plus one link, for test_api only
	cmds := exec.commands[before:]
	require.Len(t, cmds, 2)

	compile := cmds[0]
	require.Equal(t, toolCompiler, compile[0])
	require.Contains(t, compile, filepath.Join(p.TestsDir, "test_api.uxx"))
	require.Contains(t, compile, ifcFlagMap)
	require.Contains(t, compile, p.IfcMapFile())

	link := cmds[1]
	require.Equal(t, toolLinker, link[0])
	require.Contains(t, link, p.OutputFile())
	require.Contains(t, link, "/OUT:"+filepath.Join(p.BuildDir, "test_api.exe"))
}

func TestBuildTests_NoTestsDirectory(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	require.NoError(t, p.Build())

	before := len(exec.commands)
	require.NoError(t, p.buildTests())
	require.Len(t, exec.commands, before)
}

func TestBuildTests_SkipsFreshTests(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	require.NoError(t, p.Build())

	require.NoError(t, os.MkdirAll(p.TestsDir, 0755))
	writeSource(t, p.TestsDir, "test_api.uxx", "import api; int main() {}")
	require.NoError(t, p.buildTests())

	// artifacts are newer than the sources now, nothing to do
	before := len(exec.commands)
	require.NoError(t, p.buildTests())
	require.Len(t, exec.commands, before)
}

func TestRunTests_RecordsFailuresAndKeepsGoing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake test binaries are shell scripts")
	}

	p, _, _ := newTestProject(t, "core", Archive, nil)
	writeScript(t, p.BuildDir, "test_pass.exe", "#!/bin/sh\necho ok\nexit 0\n")
	writeScript(t, p.BuildDir, "test_fail.exe", "#!/bin/sh\necho boom >&2\nexit 3\n")
	writeScript(t, p.BuildDir, "test_also_pass.exe", "#!/bin/sh\nexit 0\n")

	err := p.runTests()
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 3 tests failed")
	require.Contains(t, err.Error(), "test_fail")
}

func TestRunTests_AllPassing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake test binaries are shell scripts")
	}

	p, _, _ := newTestProject(t, "core", Archive, nil)
	writeScript(t, p.BuildDir, "test_ok.exe", "#!/bin/sh\nexit 0\n")

	require.NoError(t, p.runTests())
}

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0755))
}
