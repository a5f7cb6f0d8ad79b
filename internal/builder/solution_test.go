package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSolution(t *testing.T) (*Solution, *fakeExecutor, string) {
	t.Helper()
	root := t.TempDir()
	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	s := NewSolution("demo",
		filepath.Join(root, "src"),
		filepath.Join(root, "build"),
		filepath.Join(root, "out"),
		cfg, exec)
	return s, exec, root
}

func TestSolution_ProjectUsesConventionalLayout(t *testing.T) {
	s, _, root := newTestSolution(t)

	p, err := s.Project("core", Archive, []string{"api.ixx"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "src", "core", "modules"), p.SourceDir)
	require.Equal(t, filepath.Join(root, "src", "core", "tests"), p.TestsDir)
	require.Equal(t, filepath.Join(root, "build", "core"), p.BuildDir)
	require.Equal(t, []string{"api.ixx"}, p.Sources)

	require.Same(t, p, s.ProjectByName("core"))
	require.Nil(t, s.ProjectByName("gui"))
}

func TestSolution_RejectsDuplicateProjectNames(t *testing.T) {
	s, _, _ := newTestSolution(t)
	_, err := s.Project("core", Archive, nil)
	require.NoError(t, err)

	_, err = s.Project("core", Executable, nil)
	require.Error(t, err)
}

func TestSolution_BuildLinksDeclaredLibraries(t *testing.T) {
	s, exec, root := newTestSolution(t)

	lib, err := s.Project("core", Archive, []string{"api.ixx"})
	require.NoError(t, err)
	writeSource(t, lib.SourceDir, "api.ixx", "export module api;")

	app, err := s.Project("app", Executable, []string{"main.cpp"})
	require.NoError(t, err)
	app.Libs = []string{"core"}
	writeSource(t, app.SourceDir, "main.cpp", "import api; int main() {}")

	require.NoError(t, s.Build("build"))

	// core compiles and archives before app compiles and links
	require.Equal(t, []string{toolCompiler, toolLibMgr, toolCompiler, toolLinker}, exec.tools())
	appLink := exec.commands[3]
	require.Contains(t, appLink, lib.OutputFile())

	// final artifacts land flat in the output directory
	require.FileExists(t, filepath.Join(root, "out", "core.lib"))
	require.FileExists(t, filepath.Join(root, "out", "app.exe"))
}

func TestSolution_BuildFailsOnUnknownLibrary(t *testing.T) {
	s, _, _ := newTestSolution(t)

	app, err := s.Project("app", Executable, nil)
	require.NoError(t, err)
	app.Libs = []string{"phantom"}

	err = s.Build("build")
	require.Error(t, err)
	require.Contains(t, err.Error(), "phantom")
}

func TestSolution_CleanSkipsLibraryResolution(t *testing.T) {
	s, _, _ := newTestSolution(t)

	app, err := s.Project("app", Executable, nil)
	require.NoError(t, err)
	// the library artifact does not exist; clean must not care
	app.Libs = []string{"core"}
	_, err = s.Project("core", Archive, nil)
	require.NoError(t, err)

	require.NoError(t, s.Build("clean"))
}

func TestSolution_CopyOutputFiltersByExtension(t *testing.T) {
	s, _, root := newTestSolution(t)

	buildDir := filepath.Join(root, "build", "core")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	for _, name := range []string{"core.lib", "core.pdb", "ifcMap.toml", "stray.obj"} {
		require.NoError(t, os.WriteFile(filepath.Join(buildDir, name), []byte("x"), 0644))
	}

	require.NoError(t, s.copyOutput())
	require.FileExists(t, filepath.Join(root, "out", "core.lib"))
	require.FileExists(t, filepath.Join(root, "out", "core.pdb"))
	require.NoFileExists(t, filepath.Join(root, "out", "ifcMap.toml"))
	require.NoFileExists(t, filepath.Join(root, "out", "stray.obj"))
}

func TestSolution_NoOutputDirConfigured(t *testing.T) {
	root := t.TempDir()
	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	s := NewSolution("demo", filepath.Join(root, "src"), filepath.Join(root, "build"), "", cfg, &fakeExecutor{})
	require.NoError(t, s.copyOutput())
}
