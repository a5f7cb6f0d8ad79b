package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ProjectKind selects the output artifact of a project.
type ProjectKind string

const (
	Archive       ProjectKind = ".lib"
	Executable    ProjectKind = ".exe"
	SharedLibrary ProjectKind = ".dll"
)

var (
	errNotAnArchive      = errors.New("only archive projects can be linked as libraries")
	errAlreadyLinked     = errors.New("library is already linked")
	errMissingArtifact   = errors.New("library output artifact does not exist")
	errUnsupportedKind   = errors.New("unsupported project kind")
	errUnsupportedTarget = errors.New("unsupported build target")
)

// Project groups a coherent set of source units sharing one configuration
// and output artifact. It owns the session registries and the deferred
// command queue; staleness is re-derived from the filesystem every run.
type Project struct {
	Name      string
	Kind      ProjectKind
	SourceDir string
	TestsDir  string
	BuildDir  string
	Config    *Config

	// Sources is the declared unit list, in compile order. Header units and
	// module interfaces compile in this order, synchronously.
	Sources []string

	// Libs names sibling projects to link before building (manifest flow).
	Libs []string

	// Setup runs once before the project's units are compiled.
	Setup func() error

	objects     *ObjectRegistry
	headerUnits *HeaderUnitRegistry
	modules     *ModuleRegistry
	ifcMaps     *IfcMapRegistry
	deferred    [][]string
	linked      map[string]bool

	ifcDir   string
	cacheDir string

	total   int
	rebuilt int
	added   bool

	exec Executor
}

// NewProject constructs a project and eagerly creates its build directories.
func NewProject(name string, kind ProjectKind, sourceDir, testsDir, buildDir string, cfg *Config, exec Executor) (*Project, error) {
	switch kind {
	case Archive, Executable, SharedLibrary:
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedKind, kind)
	}

	p := &Project{
		Name:        name,
		Kind:        kind,
		SourceDir:   filepath.Clean(sourceDir),
		TestsDir:    filepath.Clean(testsDir),
		BuildDir:    filepath.Clean(buildDir),
		Config:      cfg,
		objects:     NewObjectRegistry(),
		headerUnits: NewHeaderUnitRegistry(),
		modules:     NewModuleRegistry(),
		ifcMaps:     NewIfcMapRegistry(),
		linked:      make(map[string]bool),
		exec:        exec,
	}
	p.ifcDir = filepath.Join(p.BuildDir, "ifc")
	p.cacheDir = filepath.Join(p.BuildDir, "obj")

	if err := os.MkdirAll(p.ifcDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) OutputFile() string { return filepath.Join(p.BuildDir, p.Name+string(p.Kind)) }
func (p *Project) PdbFile() string    { return filepath.Join(p.BuildDir, p.Name+".pdb") }
func (p *Project) IfcMapFile() string { return filepath.Join(p.BuildDir, IfcMapFilename) }

// UnitCount and RebuiltCount report this session's staleness tally.
func (p *Project) UnitCount() int    { return p.total }
func (p *Project) RebuiltCount() int { return p.rebuilt }

func (p *Project) outputFileFlag() string { return cflagExePath + p.OutputFile() }
func (p *Project) pdbFileFlag() string    { return cflagPdbPath + p.PdbFile() }

func (p *Project) commonFlags() []string  { return []string{"/I", p.SourceDir} }
func (p *Project) ifcSearchDir() []string { return []string{ifcFlagSearchDir, p.ifcDir} }

// AddSources classifies and dispatches every unit in declaration order.
func (p *Project) AddSources(sources []string) error {
	for _, source := range sources {
		if err := p.AddUnit(source); err != nil {
			return err
		}
	}
	return nil
}

// AddUnit dispatches one source file to the compiler path for its kind.
func (p *Project) AddUnit(path string) error {
	unit, err := ClassifyUnit(path)
	if err != nil {
		return err
	}

	switch unit.Kind {
	case UnitPlain:
		return p.addTranslationUnit(unit.Path)
	case UnitPlainC:
		return p.addCTranslationUnit(unit.Path)
	case UnitHeader:
		return p.addHeaderUnit(unit.Path)
	case UnitModuleInterface:
		return p.addModuleInterface(unit.Path)
	case UnitModuleImpl:
		return p.addModuleImplementation(unit.Path)
	}
	return fmt.Errorf("unhandled unit kind %v", unit.Kind)
}

func expectExt(path, ext string) error {
	if filepath.Ext(path) != ext {
		return fmt.Errorf("file extension mismatch: expected %s, got %s", ext, path)
	}
	return nil
}

// addTranslationUnit schedules an independent C++ translation unit (.cpp).
// Always deferred: nothing downstream needs its artifacts within the session.
func (p *Project) addTranslationUnit(cpp string) error {
	if err := expectExt(cpp, ".cpp"); err != nil {
		return err
	}

	obj := filepath.Join(p.cacheDir, dotPath(cpp, ".obj", false))
	src := filepath.Join(p.SourceDir, cpp)

	objFlag, err := p.objects.Register(src, obj)
	if err != nil {
		return err
	}

	cmd := []string{toolCompiler, cflagLinkless}
	cmd = append(cmd, p.Config.CompilerArgs()...)
	cmd = append(cmd, p.commonFlags()...)
	cmd = append(cmd, p.ifcSearchDir()...)
	cmd = append(cmd, p.headerUnits.ReplayArgs()...)
	cmd = append(cmd, p.ifcMaps.CompilerArgs()...)
	cmd = append(cmd, ifcFlagTranslationUnit, src)
	cmd = append(cmd, objFlag, p.pdbFileFlag(), p.outputFileFlag())

	return p.deferOrSkip(cmd, src, obj, cpp)
}

// addCTranslationUnit schedules a C unit (.c) with a distinct language
// standard and a reduced flag set (no whole-program-optimization flags).
func (p *Project) addCTranslationUnit(c string) error {
	if err := expectExt(c, ".c"); err != nil {
		return err
	}

	obj := filepath.Join(p.cacheDir, dotPath(c, ".obj", false))
	src := filepath.Join(p.SourceDir, c)

	objFlag, err := p.objects.Register(src, obj)
	if err != nil {
		return err
	}

	cmd := []string{toolCompiler, cflagLinkless, cflagStandardC}
	if p.Config.Variant == VariantDebug {
		cmd = append(cmd, cflagDebug)
	}
	cmd = append(cmd, p.commonFlags()...)
	cmd = append(cmd, src)
	cmd = append(cmd, objFlag, p.pdbFileFlag(), p.outputFileFlag())

	return p.deferOrSkip(cmd, src, obj, c)
}

// addHeaderUnit exports a header unit (.hxx). Executed immediately, never
// deferred: later compiles in the same session need its interface file on
// disk. The exporting compile replays the include directives of every header
// unit registered so far, its own included.
func (p *Project) addHeaderUnit(hxx string) error {
	if err := expectExt(hxx, ".hxx"); err != nil {
		return err
	}

	rel := filepath.Clean(hxx)
	ifc := filepath.Join(p.ifcDir, dotPath(rel, ".ifc", false))
	obj := filepath.Join(p.cacheDir, dotPath(rel, ".obj", true))

	exportArgs, err := p.headerUnits.Register(rel, ifc)
	if err != nil {
		return err
	}
	objFlag, err := p.objects.Register(rel, obj)
	if err != nil {
		return err
	}

	cmd := []string{toolCompiler, cflagLinkless}
	cmd = append(cmd, p.Config.CompilerArgs()...)
	cmd = append(cmd, p.commonFlags()...)
	cmd = append(cmd, p.ifcSearchDir()...)
	cmd = append(cmd, exportArgs...)
	cmd = append(cmd, p.headerUnits.ReplayArgs()...)
	cmd = append(cmd, p.ifcMaps.CompilerArgs()...)
	cmd = append(cmd, ifcFlagOutput, ifc)
	cmd = append(cmd, objFlag, p.pdbFileFlag(), p.outputFileFlag())

	return p.execOrSkip(cmd, filepath.Join(p.SourceDir, rel), obj, rel)
}

// addModuleInterface exports a module interface (.ixx). The logical module
// name is the dotted source path. Executed immediately, like header units.
func (p *Project) addModuleInterface(ixx string) error {
	if err := expectExt(ixx, ".ixx"); err != nil {
		return err
	}

	name := dotPath(ixx, "", true)
	ifc := filepath.Join(p.ifcDir, dotPath(ixx, ".ifc", true))
	obj := filepath.Join(p.cacheDir, dotPath(ixx, ".obj", false))
	src := filepath.Join(p.SourceDir, ixx)

	interfaceArgs, err := p.modules.Register(src, name, ifc)
	if err != nil {
		return err
	}
	objFlag, err := p.objects.Register(src, obj)
	if err != nil {
		return err
	}

	cmd := []string{toolCompiler, cflagLinkless}
	cmd = append(cmd, p.Config.CompilerArgs()...)
	cmd = append(cmd, p.commonFlags()...)
	cmd = append(cmd, p.ifcSearchDir()...)
	cmd = append(cmd, p.headerUnits.ReplayArgs()...)
	cmd = append(cmd, p.ifcMaps.CompilerArgs()...)
	cmd = append(cmd, interfaceArgs...)
	cmd = append(cmd, ifcFlagOutput, ifc)
	cmd = append(cmd, objFlag, p.pdbFileFlag(), p.outputFileFlag())

	return p.execOrSkip(cmd, src, obj, ixx)
}

// addModuleImplementation schedules a module implementation unit (.cxx),
// compiled against the already-registered header units and interfaces.
// Always deferred; it exports nothing.
func (p *Project) addModuleImplementation(cxx string) error {
	if err := expectExt(cxx, ".cxx"); err != nil {
		return err
	}

	obj := filepath.Join(p.cacheDir, dotPath(cxx, ".obj", false))
	src := filepath.Join(p.SourceDir, cxx)

	objFlag, err := p.objects.Register(src, obj)
	if err != nil {
		return err
	}

	cmd := []string{toolCompiler, cflagLinkless}
	cmd = append(cmd, p.Config.CompilerArgs()...)
	cmd = append(cmd, p.commonFlags()...)
	cmd = append(cmd, p.ifcSearchDir()...)
	cmd = append(cmd, p.headerUnits.ReplayArgs()...)
	cmd = append(cmd, p.ifcMaps.CompilerArgs()...)
	cmd = append(cmd, src)
	cmd = append(cmd, objFlag, p.pdbFileFlag(), p.outputFileFlag())

	return p.deferOrSkip(cmd, src, obj, cxx)
}

// deferOrSkip enqueues the command when the unit is stale, otherwise logs a
// no-op. Deferred commands run after all interfaces exist on disk.
func (p *Project) deferOrSkip(cmd []string, src, obj, display string) error {
	stale, err := shouldRebuild(src, obj)
	if err != nil {
		return err
	}
	if stale {
		p.deferred = append(p.deferred, cmd)
		p.rebuilt++
	} else {
		fmt.Printf(":> Not building %s (no changes)\n", display)
	}
	p.total++
	return nil
}

// execOrSkip compiles the unit immediately when stale, otherwise logs a no-op.
func (p *Project) execOrSkip(cmd []string, src, obj, display string) error {
	stale, err := shouldRebuild(src, obj)
	if err != nil {
		return err
	}
	if stale {
		if _, err := p.exec.Execute(cmd...); err != nil {
			return err
		}
		p.rebuilt++
	} else {
		fmt.Printf(":> Not building %s (no changes)\n", display)
	}
	p.total++
	return nil
}

// LinkLibraries links archive projects into this one: their output artifacts
// join the object list and their published interface maps are prepended to
// every subsequent compile command.
func (p *Project) LinkLibraries(libs ...*Project) error {
	for _, lib := range libs {
		if lib.Kind != Archive {
			return fmt.Errorf("%w: %s is %q", errNotAnArchive, lib.Name, lib.Kind)
		}
		if p.linked[lib.Name] {
			return fmt.Errorf("%w: %s", errAlreadyLinked, lib.Name)
		}
		if _, err := os.Stat(lib.OutputFile()); err != nil {
			return fmt.Errorf("%w: %s", errMissingArtifact, lib.OutputFile())
		}
		p.linked[lib.Name] = true
		p.objects.AddArtifact(lib.OutputFile())
		if _, err := os.Stat(lib.IfcMapFile()); err == nil {
			if err := p.ifcMaps.Register(lib.Name, lib.IfcMapFile()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Build runs the two-phase build: pass 1 compiles header units and module
// interfaces synchronously in declaration order while plain units and module
// implementations are enqueued; pass 2 drains the queue, then the artifact is
// linked/archived, the interface map published, and the tests compiled.
func (p *Project) Build() error {
	fmt.Printf("PROJECT %s\n", p.Name)
	start := time.Now()

	fmt.Printf(":BUILD> %s\n", filepath.Base(p.OutputFile()))

	if p.Setup != nil {
		if err := p.Setup(); err != nil {
			return fmt.Errorf("setup script for project %q failed: %w", p.Name, err)
		}
	}

	if !p.added {
		p.added = true
		if err := p.AddSources(p.Sources); err != nil {
			return err
		}
	}

	if p.rebuilt == 0 {
		fmt.Printf(":> Not linking %s (no changes).\n", filepath.Base(p.OutputFile()))
	} else {
		// Naive two-pass resolution of dependencies between implementation
		// units: every interface already exists on disk before the first
		// deferred command runs.
		for len(p.deferred) > 0 {
			cmd := p.deferred[0]
			p.deferred = p.deferred[1:]
			if _, err := p.exec.Execute(cmd...); err != nil {
				return err
			}
		}

		fmt.Printf(":> Rebuilt %d/%d source files.\n", p.rebuilt, p.total)

		switch p.Kind {
		case Archive:
			if err := p.archive(); err != nil {
				return err
			}
		case Executable:
			if err := p.linkBinary(false); err != nil {
				return err
			}
		case SharedLibrary:
			if err := p.linkBinary(true); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %q", errUnsupportedKind, p.Kind)
		}

		if p.modules.Len() > 0 || p.headerUnits.Len() > 0 {
			if err := p.publishInterfaceMap(); err != nil {
				return err
			}
		}
		fmt.Printf(":BUILT> %s\n", filepath.Base(p.OutputFile()))
		fmt.Println("---")
	}

	if err := p.buildTests(); err != nil {
		return err
	}

	fmt.Printf("PROJECT %s was built in %.3fs\n\n", p.Name, time.Since(start).Seconds())
	return nil
}

// archive invokes the archiver over every registered object artifact,
// including those contributed by linked library projects.
func (p *Project) archive() error {
	cmd := []string{toolLibMgr, "/OUT:" + p.OutputFile()}
	cmd = append(cmd, p.objects.Included()...)
	_, err := p.exec.Execute(cmd...)
	return err
}

// linkBinary assembles a standard link command over the registered object
// list for executables and shared libraries.
func (p *Project) linkBinary(dll bool) error {
	cmd := []string{toolLinker}
	cmd = append(cmd, p.Config.LinkerArgs()...)
	if dll {
		cmd = append(cmd, lflagDLL)
	}
	cmd = append(cmd, p.objects.Included()...)
	cmd = append(cmd, "/PDB:"+p.PdbFile(), "/OUT:"+p.OutputFile())
	_, err := p.exec.Execute(cmd...)
	return err
}

// publishInterfaceMap rewrites ifcMap.toml when it is older than the output
// artifact.
func (p *Project) publishInterfaceMap() error {
	stale, err := shouldRebuild(p.OutputFile(), p.IfcMapFile())
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}

	m := &InterfaceMap{}
	for _, entry := range p.headerUnits.Exported() {
		m.HeaderUnits = append(m.HeaderUnits, HeaderUnitRecord{
			Name: []string{"angle", entry.Source},
			Ifc:  entry.Ifc,
		})
	}
	for _, entry := range p.modules.Exported() {
		m.Modules = append(m.Modules, ModuleRecord{Name: entry.Name, Ifc: entry.Ifc})
	}
	if err := m.WriteFile(p.IfcMapFile()); err != nil {
		return err
	}
	fmt.Printf(":> Wrote interface map to %s\n", p.IfcMapFile())
	return nil
}

// Clean removes all build-directory contents and recreates the object-cache
// and interface subdirectories. Refuses to run when the source directory
// resolves into the build directory.
func (p *Project) Clean() error {
	src, err := filepath.Abs(p.SourceDir)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(p.BuildDir)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("refusing to clean: source and build directory are both %s", src)
	}
	if strings.HasPrefix(src+string(filepath.Separator), dst+string(filepath.Separator)) {
		return fmt.Errorf("refusing to clean: source directory %s is inside build directory %s", src, dst)
	}

	if err := os.RemoveAll(p.BuildDir); err != nil {
		return err
	}
	if err := os.MkdirAll(p.ifcDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(p.cacheDir, 0755); err != nil {
		return err
	}
	fmt.Printf(":> Cleaned %s\n", p.Name)
	return nil
}

// OnTarget dispatches one of the four build targets.
func (p *Project) OnTarget(target string) error {
	switch target {
	case "clean":
		return p.Clean()
	case "rebuild":
		if err := p.Clean(); err != nil {
			return err
		}
		return p.Build()
	case "build":
		return p.Build()
	case "test":
		return p.Test()
	default:
		return fmt.Errorf("%w: %q", errUnsupportedTarget, target)
	}
}
