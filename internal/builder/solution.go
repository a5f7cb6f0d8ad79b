package builder

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Solution aggregates multiple projects sharing one default configuration,
// propagates build targets to each in dependency order, and copies final
// artifacts to the output directory. Same terminology as MSBuild: Solution is
// to Project as .sln is to .proj files.
type Solution struct {
	Name      string
	SourceDir string
	BuildDir  string
	OutputDir string
	Config    *Config
	Projects  []*Project

	exec Executor
}

func NewSolution(name, sourceDir, buildDir, outputDir string, cfg *Config, exec Executor) *Solution {
	return &Solution{
		Name:      name,
		SourceDir: filepath.Clean(sourceDir),
		BuildDir:  filepath.Clean(buildDir),
		OutputDir: outputDir,
		Config:    cfg,
		exec:      exec,
	}
}

// Project registers a new project under the solution's conventional layout:
// sources in <src>/<name>/modules, tests in <src>/<name>/tests, artifacts in
// <build>/<name>.
func (s *Solution) Project(name string, kind ProjectKind, sources []string) (*Project, error) {
	if s.ProjectByName(name) != nil {
		return nil, fmt.Errorf("project %q already exists in solution %q", name, s.Name)
	}

	proj, err := NewProject(name, kind,
		filepath.Join(s.SourceDir, name, "modules"),
		filepath.Join(s.SourceDir, name, "tests"),
		filepath.Join(s.BuildDir, name),
		s.Config, s.exec)
	if err != nil {
		return nil, err
	}
	proj.Sources = sources

	s.Projects = append(s.Projects, proj)
	return proj, nil
}

// AddProject registers an externally constructed project (manifest flow).
func (s *Solution) AddProject(p *Project) error {
	if s.ProjectByName(p.Name) != nil {
		return fmt.Errorf("project %q already exists in solution %q", p.Name, s.Name)
	}
	s.Projects = append(s.Projects, p)
	return nil
}

func (s *Solution) ProjectByName(name string) *Project {
	for _, proj := range s.Projects {
		if proj.Name == name {
			return proj
		}
	}
	return nil
}

// Build propagates the target to every project. Library links declared in
// the manifest are resolved lazily, after the producer's own turn.
func (s *Solution) Build(target string) error {
	fmt.Println("BUILDING TARGET", target)

	for _, proj := range s.Projects {
		if target != "clean" {
			if err := s.linkDeclared(proj); err != nil {
				return err
			}
		}
		if err := proj.OnTarget(target); err != nil {
			return err
		}
	}

	if target == "build" || target == "rebuild" {
		return s.copyOutput()
	}
	return nil
}

func (s *Solution) linkDeclared(p *Project) error {
	for _, name := range p.Libs {
		if p.linked[name] {
			continue
		}
		lib := s.ProjectByName(name)
		if lib == nil {
			return fmt.Errorf("project %q links unknown library %q", p.Name, name)
		}
		if err := p.LinkLibraries(lib); err != nil {
			return err
		}
	}
	return nil
}

var outputExtensions = map[string]bool{
	".exe": true,
	".lib": true,
	".dll": true,
	".pdb": true,
}

// copyOutput refreshes the output directory with every final artifact found
// under the build tree.
func (s *Solution) copyOutput() error {
	if s.OutputDir == "" {
		return nil
	}

	if err := os.RemoveAll(s.OutputDir); err != nil {
		return err
	}
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return err
	}

	return filepath.WalkDir(s.BuildDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !outputExtensions[filepath.Ext(path)] {
			return nil
		}
		return copyFile(path, filepath.Join(s.OutputDir, d.Name()))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
