package builder

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeExecutor records every command line and materializes the artifacts the
// real toolchain would produce, so the staleness model can be exercised
// without MSVC on the machine.
type fakeExecutor struct {
	commands [][]string
	fail     func(args []string) error
}

func (e *fakeExecutor) Execute(args ...string) (string, error) {
	e.commands = append(e.commands, slices.Clone(args))
	if e.fail != nil {
		if err := e.fail(args); err != nil {
			return "", err
		}
	}
	for i, arg := range args {
		switch {
		case strings.HasPrefix(arg, cflagObjPath):
			materialize(arg[len(cflagObjPath):])
		case strings.HasPrefix(arg, "/OUT:"):
			materialize(arg[len("/OUT:"):])
		case arg == ifcFlagOutput && i+1 < len(args):
			materialize(args[i+1])
		}
	}
	return "", nil
}

func materialize(path string) {
	if err := os.WriteFile(path, []byte("artifact"), 0644); err != nil {
		panic(err)
	}
}

func (e *fakeExecutor) tools() []string {
	var tools []string
	for _, cmd := range e.commands {
		tools = append(tools, cmd[0])
	}
	return tools
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	// keep sources older than any artifact the fake executor creates
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	return path
}

func newTestProject(t *testing.T, name string, kind ProjectKind, sources []string) (*Project, *fakeExecutor, string) {
	t.Helper()
	root := t.TempDir()
	srcDir := filepath.Join(root, "src", name, "modules")
	require.NoError(t, os.MkdirAll(srcDir, 0755))

	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	p, err := NewProject(name, kind, srcDir,
		filepath.Join(root, "src", name, "tests"),
		filepath.Join(root, "build", name), cfg, exec)
	require.NoError(t, err)
	p.Sources = sources
	return p, exec, srcDir
}

func TestBuild_ArchiveEndToEnd(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx", "impl.cxx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	writeSource(t, srcDir, "impl.cxx", "module api;")

	require.NoError(t, p.Build())
	require.Equal(t, []string{toolCompiler, toolCompiler, toolLibMgr}, exec.tools())
	require.Equal(t, 2, p.RebuiltCount())
	require.Equal(t, 2, p.UnitCount())

	// interface compile runs first and exports the module
	ifcCmd := exec.commands[0]
	require.Contains(t, ifcCmd, ifcFlagInterface)
	require.Contains(t, ifcCmd, filepath.Join(srcDir, "api.ixx"))
	require.Contains(t, ifcCmd, ifcFlagOutput)
	require.Contains(t, ifcCmd, filepath.Join(p.BuildDir, "ifc", "api.ifc"))

	// the implementation follows from the deferred queue
	require.Contains(t, exec.commands[1], filepath.Join(srcDir, "impl.cxx"))

	// the archive collects both objects
	arCmd := exec.commands[2]
	require.Equal(t, "/OUT:"+p.OutputFile(), arCmd[1])
	require.Contains(t, arCmd, filepath.Join(p.BuildDir, "obj", "api.ixx.obj"))
	require.Contains(t, arCmd, filepath.Join(p.BuildDir, "obj", "impl.cxx.obj"))

	// the interface map is published next to the artifact
	m, err := ParseInterfaceMap(p.IfcMapFile())
	require.NoError(t, err)
	require.Len(t, m.Modules, 1)
	require.Equal(t, "api", m.Modules[0].Name)
	require.Empty(t, m.HeaderUnits)
}

func TestBuild_SecondRunIsANoOp(t *testing.T) {
	p, _, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx", "impl.cxx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	writeSource(t, srcDir, "impl.cxx", "module api;")
	require.NoError(t, p.Build())

	// a fresh session over the same tree finds nothing stale
	exec2 := &fakeExecutor{}
	p2, err := NewProject(p.Name, p.Kind, p.SourceDir, p.TestsDir, p.BuildDir, p.Config, exec2)
	require.NoError(t, err)
	p2.Sources = p.Sources

	require.NoError(t, p2.Build())
	require.Empty(t, exec2.commands)
	require.Equal(t, 0, p2.RebuiltCount())
	require.Equal(t, 2, p2.UnitCount())
}

func TestBuild_TouchingOneUnitRecompilesOnlyThatUnit(t *testing.T) {
	p, _, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx", "impl.cxx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	impl := writeSource(t, srcDir, "impl.cxx", "module api;")
	require.NoError(t, p.Build())

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(impl, future, future))

	exec2 := &fakeExecutor{}
	p2, err := NewProject(p.Name, p.Kind, p.SourceDir, p.TestsDir, p.BuildDir, p.Config, exec2)
	require.NoError(t, err)
	p2.Sources = p.Sources

	require.NoError(t, p2.Build())
	require.Equal(t, 1, p2.RebuiltCount())
	// one recompile, then the artifact is re-archived
	require.Equal(t, []string{toolCompiler, toolLibMgr}, exec2.tools())
	require.Contains(t, exec2.commands[0], impl)
}

func TestBuild_InterfacesCompileBeforeDeferredUnits(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "mix", Archive,
		[]string{"plain.cpp", "greeter.hxx", "impl.cxx", "api.ixx"})
	writeSource(t, srcDir, "plain.cpp", "int p;")
	writeSource(t, srcDir, "greeter.hxx", "void hello();")
	writeSource(t, srcDir, "impl.cxx", "module api;")
	writeSource(t, srcDir, "api.ixx", "export module api;")

	require.NoError(t, p.Build())
	require.Equal(t, []string{toolCompiler, toolCompiler, toolCompiler, toolCompiler, toolLibMgr}, exec.tools())

	// pass 1: the header unit and the interface, in declaration order
	require.Contains(t, exec.commands[0], ifcFlagExportHeader)
	require.Contains(t, exec.commands[0], "greeter.hxx")
	require.Contains(t, exec.commands[1], ifcFlagInterface)

	// pass 2 drains the deferred queue in declaration order
	require.Contains(t, exec.commands[2], filepath.Join(srcDir, "plain.cpp"))
	require.Contains(t, exec.commands[3], filepath.Join(srcDir, "impl.cxx"))
}

func TestBuild_HeaderUnitReplaysItself(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "hdr", Archive, []string{"greeter.hxx", "user.cpp"})
	writeSource(t, srcDir, "greeter.hxx", "void hello();")
	writeSource(t, srcDir, "user.cpp", "import <greeter.hxx>;")

	require.NoError(t, p.Build())

	ifc := filepath.Join(p.BuildDir, "ifc", "greeter.hxx.ifc")
	directive := "greeter.hxx=" + ifc
	// the exporting compile carries its own replay directive
	require.Contains(t, exec.commands[0], ifcFlagHeaderUnitAngle)
	require.Contains(t, exec.commands[0], directive)
	// and so does the consumer
	require.Contains(t, exec.commands[1], directive)

	m, err := ParseInterfaceMap(p.IfcMapFile())
	require.NoError(t, err)
	require.Len(t, m.HeaderUnits, 1)
	require.Equal(t, []string{"angle", "greeter.hxx"}, m.HeaderUnits[0].Name)
}

func TestBuild_DottedLogicalNames(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "dotted", Archive, []string{filepath.Join("core", "api.ixx")})
	writeSource(t, srcDir, filepath.Join("core", "api.ixx"), "export module core.api;")

	require.NoError(t, p.Build())

	cmd := exec.commands[0]
	require.Contains(t, cmd, filepath.Join(p.BuildDir, "ifc", "core.api.ifc"))
	require.Contains(t, cmd, cflagObjPath+filepath.Join(p.BuildDir, "obj", "core.api.ixx.obj"))

	m, err := ParseInterfaceMap(p.IfcMapFile())
	require.NoError(t, err)
	require.Equal(t, "core.api", m.Modules[0].Name)
}

func TestBuild_ExecutableLink(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "app", Executable, []string{"main.cpp"})
	writeSource(t, srcDir, "main.cpp", "int main() {}")

	require.NoError(t, p.Build())
	require.Equal(t, []string{toolCompiler, toolLinker}, exec.tools())

	link := exec.commands[1]
	require.Contains(t, link, lflagDebugFull)
	require.Contains(t, link, filepath.Join(p.BuildDir, "obj", "main.cpp.obj"))
	require.Contains(t, link, "/PDB:"+p.PdbFile())
	require.Contains(t, link, "/OUT:"+p.OutputFile())
	require.NotContains(t, link, lflagDLL)
	require.FileExists(t, p.OutputFile())
	// nothing exported, no interface map
	require.NoFileExists(t, p.IfcMapFile())
}

func TestBuild_SharedLibraryLink(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "plugin", SharedLibrary, []string{"main.cpp"})
	writeSource(t, srcDir, "main.cpp", "int entry() { return 0; }")

	require.NoError(t, p.Build())
	link := exec.commands[1]
	require.Equal(t, toolLinker, link[0])
	require.Contains(t, link, lflagDLL)
	require.Contains(t, link, "/OUT:"+p.OutputFile())
}

func TestBuild_CUnitUsesC17AndReducedFlags(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "compat", Archive, []string{"legacy.c"})
	writeSource(t, srcDir, "legacy.c", "int legacy;")

	require.NoError(t, p.Build())
	cmd := exec.commands[0]
	require.Contains(t, cmd, cflagStandardC)
	require.Contains(t, cmd, cflagDebug)
	require.NotContains(t, cmd, cflagStandard)
	require.NotContains(t, cmd, cflagWAll)
}

func TestBuild_CompileFailureStopsTheBuild(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "broken", Archive, []string{"bad.cpp"})
	writeSource(t, srcDir, "bad.cpp", "int; // nope")
	exec.fail = func(args []string) error {
		if args[0] == toolCompiler {
			return ErrCompileFailed
		}
		return nil
	}

	err := p.Build()
	require.ErrorIs(t, err, ErrCompileFailed)
	require.Equal(t, []string{toolCompiler}, exec.tools())
}

func TestAddUnit_MissingSource(t *testing.T) {
	p, _, _ := newTestProject(t, "ghost", Archive, nil)
	err := p.AddUnit("missing.cpp")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing.cpp")
}

func TestAddUnit_DuplicateUnit(t *testing.T) {
	p, _, srcDir := newTestProject(t, "dup", Archive, nil)
	writeSource(t, srcDir, "a.cpp", "int a;")

	require.NoError(t, p.AddUnit("a.cpp"))
	err := p.AddUnit("a.cpp")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")
}

func TestLinkLibraries(t *testing.T) {
	lib, _, libSrc := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, libSrc, "api.ixx", "export module api;")
	require.NoError(t, lib.Build())

	app, exec, appSrc := newTestProject(t, "app", Executable, []string{"main.cpp"})
	writeSource(t, appSrc, "main.cpp", "import api; int main() {}")
	require.NoError(t, app.LinkLibraries(lib))
	require.NoError(t, app.Build())

	// the consumer's compile sees the library's interface map
	compile := exec.commands[0]
	require.Contains(t, compile, ifcFlagMap)
	require.Contains(t, compile, lib.IfcMapFile())

	// and its artifact joins the link
	link := exec.commands[1]
	require.Contains(t, link, lib.OutputFile())
}

func TestLinkLibraries_RejectsNonArchive(t *testing.T) {
	exe, _, _ := newTestProject(t, "tool", Executable, nil)
	app, _, _ := newTestProject(t, "app", Executable, nil)

	err := app.LinkLibraries(exe)
	require.ErrorIs(t, err, errNotAnArchive)
}

func TestLinkLibraries_RejectsMissingArtifact(t *testing.T) {
	lib, _, _ := newTestProject(t, "core", Archive, nil)
	app, _, _ := newTestProject(t, "app", Executable, nil)

	err := app.LinkLibraries(lib)
	require.ErrorIs(t, err, errMissingArtifact)
}

func TestLinkLibraries_RejectsDoubleLink(t *testing.T) {
	lib, _, libSrc := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, libSrc, "api.ixx", "export module api;")
	require.NoError(t, lib.Build())

	app, _, _ := newTestProject(t, "app", Executable, nil)
	require.NoError(t, app.LinkLibraries(lib))
	err := app.LinkLibraries(lib)
	require.ErrorIs(t, err, errAlreadyLinked)
}

func TestClean_RemovesArtifactsAndKeepsLayout(t *testing.T) {
	p, _, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	require.NoError(t, p.Build())
	require.FileExists(t, p.OutputFile())

	require.NoError(t, p.Clean())
	require.NoFileExists(t, p.OutputFile())
	require.DirExists(t, filepath.Join(p.BuildDir, "ifc"))
	require.DirExists(t, filepath.Join(p.BuildDir, "obj"))
}

func TestClean_RefusesWhenSourceIsBuildDir(t *testing.T) {
	root := t.TempDir()
	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	p, err := NewProject("evil", Archive, root, filepath.Join(root, "tests"), root, cfg, &fakeExecutor{})
	require.NoError(t, err)
	require.Error(t, p.Clean())
}

func TestClean_RefusesWhenSourceInsideBuildDir(t *testing.T) {
	root := t.TempDir()
	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	p, err := NewProject("evil", Archive,
		filepath.Join(root, "build", "src"), filepath.Join(root, "tests"),
		filepath.Join(root, "build"), cfg, &fakeExecutor{})
	require.NoError(t, err)
	require.Error(t, p.Clean())
}

func TestOnTarget_RebuildRecompilesEverything(t *testing.T) {
	p, exec, srcDir := newTestProject(t, "core", Archive, []string{"api.ixx", "impl.cxx"})
	writeSource(t, srcDir, "api.ixx", "export module api;")
	writeSource(t, srcDir, "impl.cxx", "module api;")
	require.NoError(t, p.Build())
	first := len(exec.commands)

	exec2 := &fakeExecutor{}
	p2, err := NewProject(p.Name, p.Kind, p.SourceDir, p.TestsDir, p.BuildDir, p.Config, exec2)
	require.NoError(t, err)
	p2.Sources = p.Sources

	require.NoError(t, p2.OnTarget("rebuild"))
	require.Len(t, exec2.commands, first)
	require.Equal(t, 2, p2.RebuiltCount())
}

func TestOnTarget_UnknownTarget(t *testing.T) {
	p, _, _ := newTestProject(t, "core", Archive, nil)
	err := p.OnTarget("deploy")
	require.ErrorIs(t, err, errUnsupportedTarget)
}

func TestNewProject_RejectsUnknownKind(t *testing.T) {
	root := t.TempDir()
	cfg, err := NewConfig(VariantDebug)
	require.NoError(t, err)

	_, err = NewProject("bad", ProjectKind(".so"), root, root, filepath.Join(root, "build"), cfg, &fakeExecutor{})
	require.ErrorIs(t, err, errUnsupportedKind)
}
