package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ManifestFilename is the solution manifest looked up in the target
// directory.
const ManifestFilename = "Msln.toml"

// Manifest is the parsed Msln.toml.
type Manifest struct {
	Solution     SolutionSection           `toml:"solution"`
	Dependencies map[string]string         `toml:"dependencies"`
	Project      map[string]ProjectSection `toml:"project"`
}

// SolutionSection defines the [solution] section.
type SolutionSection struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
	Build  string `toml:"build"`
	Output string `toml:"output"`
	Config string `toml:"config"`
}

// ProjectSection defines a [project.<name>] section.
type ProjectSection struct {
	Kind    string   `toml:"kind"`
	Sources []string `toml:"sources"`
	Libs    []string `toml:"libs"`
	Setup   string   `toml:"setup"`
}

// mergeSection merges the fields of src into dst. dst must be a pointer to a
// struct or to a map.
func mergeSection(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer {
		return fmt.Errorf("dst must be a pointer")
	}
	dstElem := dstVal.Elem()

	srcVal := reflect.ValueOf(src)
	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}
	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same type")
	}

	switch dstElem.Kind() {
	case reflect.Map:
		if srcVal.IsNil() {
			return nil
		}
		if dstElem.IsNil() {
			dstElem.Set(reflect.MakeMap(dstElem.Type()))
		}
		for _, key := range srcVal.MapKeys() {
			dstElem.SetMapIndex(key, srcVal.MapIndex(key))
		}
		return nil
	case reflect.Struct:
	default:
		return fmt.Errorf("dst must point to a struct or a map")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection parses, evaluates and merges sections whose
// sub-table keys compile as expressions against the manifest environment.
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ManifestEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			_, err := expr.Compile(key, expr.Env(env))
			if err == nil {
				conditionalFields[key] = subMap
			} else {
				baseFields[key] = val
			}
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	for expression, condMap := range conditionalFields {
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(condMap)), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeSection(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ManifestEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		fullMatchStart := matchIndexes[0]
		fullMatchEnd := matchIndexes[1]
		expressionStart := matchIndexes[2]
		expressionEnd := matchIndexes[3]

		builder.WriteString(s[lastIndex:fullMatchStart])

		expression := strings.TrimSpace(s[expressionStart:expressionEnd])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		builder.WriteString(fmt.Sprintf("%v", result))
		lastIndex = fullMatchEnd
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates
// expressions in strings.
func processExpressions(data any, env ManifestEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseManifest(rdr io.Reader, env ManifestEnv) (*Manifest, error) {
	var rawManifest map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawManifest); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processed, err := processExpressions(rawManifest, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in manifest: %w", err)
	}
	rawManifest = processed.(map[string]any)

	m := new(Manifest)
	if err := unmarshalSection(rawManifest, "solution", &m.Solution); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawManifest, "dependencies", &m.Dependencies, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawManifest, "project", &m.Project, env); err != nil {
		return nil, err
	}

	return m, nil
}

// ParseManifestFromFile parses a manifest from a filepath.
func ParseManifestFromFile(path string, env ManifestEnv) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseManifest(bufio.NewReader(f), env)
}

// topoSortProjects orders the manifest's projects so that every library
// precedes its consumers. Edges to projects defined elsewhere (fetched
// dependencies) are ignored here.
func topoSortProjects(sections map[string]ProjectSection) ([]string, error) {
	graph := make(map[string][]string) // project -> projects that link it
	inDegree := make(map[string]int)

	for name := range sections {
		graph[name] = []string{}
		inDegree[name] = 0
	}

	for name, section := range sections {
		for _, libName := range section.Libs {
			if _, ok := sections[libName]; !ok {
				continue
			}
			graph[libName] = append(graph[libName], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	slices.Sort(queue)

	var sortedOrder []string
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		sortedOrder = append(sortedOrder, u)

		slices.Sort(graph[u])
		for _, v := range graph[u] {
			inDegree[v]--
			if inDegree[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	if len(sortedOrder) != len(sections) {
		var cycleNodes []string
		for name, degree := range inDegree {
			if degree > 0 {
				cycleNodes = append(cycleNodes, name)
			}
		}
		slices.Sort(cycleNodes)
		return nil, fmt.Errorf("library cycle detected involving projects: %v", cycleNodes)
	}

	return sortedOrder, nil
}

func parseProjectKind(kind string) (ProjectKind, error) {
	switch kind {
	case "", "lib":
		return Archive, nil
	case "exe":
		return Executable, nil
	case "dll":
		return SharedLibrary, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedKind, kind)
	}
}

var globChars = "*?[{"

// collectSources expands glob patterns against the project source root,
// keeping explicit paths (and their declared order) untouched.
func collectSources(sourceDir string, patterns []string) ([]string, error) {
	var sources []string
	fsys := os.DirFS(sourceDir)

	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, globChars) {
			sources = append(sources, pattern)
			continue
		}
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("while globbing %s: %w", pattern, err)
		}
		for _, match := range matches {
			sources = append(sources, filepath.FromSlash(match))
		}
	}

	return sources, nil
}

// LoadSolution builds a Solution from the manifest in dir. Fetched library
// dependencies come first, then the manifest's own projects in link order.
func LoadSolution(dir, variantOverride string, exec Executor) (*Solution, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	env := NewManifestEnv(dir)
	m, err := ParseManifestFromFile(filepath.Join(dir, ManifestFilename), env)
	if err != nil {
		return nil, err
	}

	name := m.Solution.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	source := firstNonEmpty(m.Solution.Source, "src")
	build := firstNonEmpty(m.Solution.Build, "build")

	variant := Variant(firstNonEmpty(variantOverride, m.Solution.Config, string(VariantDebug)))
	cfg, err := NewConfig(variant)
	if err != nil {
		return nil, err
	}

	outputDir := ""
	if m.Solution.Output != "" {
		outputDir = filepath.Join(dir, m.Solution.Output)
	}

	s := NewSolution(name, filepath.Join(dir, source), filepath.Join(dir, build), outputDir, cfg, exec)

	// resolve fetched dependencies breadth-first; their library projects are
	// registered ahead of the consumers
	depsDir := filepath.Join(s.BuildDir, "_deps")
	depSpecs := make(map[string]depSpec)
	var queue []string
	for depName, depSource := range m.Dependencies {
		depSpecs[depName] = depSpec{source: depSource, basedir: dir}
		queue = append(queue, depName)
	}
	slices.Sort(queue)

	seen := make(map[string]bool)
	for i := 0; i < len(queue); i++ {
		depName := queue[i]
		if seen[depName] {
			continue
		}
		seen[depName] = true

		depPath, err := resolveDependency(depSpecs[depName], filepath.Join(depsDir, depName))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch dependency %q: %w", depName, err)
		}

		depEnv := NewManifestEnv(depPath)
		depManifest, err := ParseManifestFromFile(filepath.Join(depPath, ManifestFilename), depEnv)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest for dependency %q: %w", depName, err)
		}

		if err := addManifestProjects(s, depPath, depManifest, depEnv, cfg, exec); err != nil {
			return nil, err
		}

		depQueue := make([]string, 0, len(depManifest.Dependencies))
		for childName, childSource := range depManifest.Dependencies {
			if _, ok := depSpecs[childName]; !ok {
				depSpecs[childName] = depSpec{source: childSource, basedir: depPath}
			}
			depQueue = append(depQueue, childName)
		}
		slices.Sort(depQueue)
		queue = append(queue, depQueue...)
	}

	if err := addManifestProjects(s, dir, m, env, cfg, exec); err != nil {
		return nil, err
	}

	return s, nil
}

// addManifestProjects registers a manifest's projects, in link order, rooted
// at basedir.
func addManifestProjects(s *Solution, basedir string, m *Manifest, env ManifestEnv, cfg *Config, exec Executor) error {
	order, err := topoSortProjects(m.Project)
	if err != nil {
		return err
	}

	source := firstNonEmpty(m.Solution.Source, "src")
	build := firstNonEmpty(m.Solution.Build, "build")

	for _, projName := range order {
		section := m.Project[projName]

		kind, err := parseProjectKind(section.Kind)
		if err != nil {
			return fmt.Errorf("project %q: %w", projName, err)
		}

		sourceDir := filepath.Join(basedir, source, projName, "modules")
		testsDir := filepath.Join(basedir, source, projName, "tests")
		buildDir := filepath.Join(basedir, build, projName)

		proj, err := NewProject(projName, kind, sourceDir, testsDir, buildDir, cfg, exec)
		if err != nil {
			return err
		}

		proj.Sources, err = collectSources(sourceDir, section.Sources)
		if err != nil {
			return fmt.Errorf("project %q: %w", projName, err)
		}
		proj.Libs = slices.Clone(section.Libs)

		if section.Setup != "" {
			program, err := expr.Compile(section.Setup, expr.Env(env))
			if err != nil {
				return fmt.Errorf("failed to compile setup script for project %q: %w", projName, err)
			}
			script := section.Setup
			proj.Setup = func() error {
				result, err := expr.Run(program, env)
				if err != nil {
					return err
				}
				if ok, _ := result.(bool); !ok {
					return fmt.Errorf("setup script returned false\n%s", script)
				}
				return nil
			}
		}

		if err := s.AddProject(proj); err != nil {
			return err
		}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

//
// expr-lang environment
//

// ManifestEnv is the evaluation environment for conditional sections,
// {{...}} placeholders and setup scripts.
type ManifestEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	basedir    string
}

func NewManifestEnv(basedir string) ManifestEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ManifestEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
		basedir:    basedir,
	}
}

// Patch applies a unified patch to a file under the manifest directory,
// reporting whether anything was applied. Used by setup scripts to adjust
// fetched dependency sources.
func (env ManifestEnv) Patch(path, patchText string) bool {
	fullPath := filepath.Join(env.basedir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	for _, ok := range results {
		if ok {
			goto applied
		}
	}
	return false // nothing was applied, nothing to write

applied:
	err = os.WriteFile(fullPath, []byte(patchedText), 0644)
	if err != nil {
		panic(err)
	}

	return true
}

func (env ManifestEnv) ReadFile(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	_, err := filepath.Rel(env.basedir, fullPath)
	if err != nil {
		panic(fmt.Sprintf("path %q is outside of solution directory %q", path, env.basedir))
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}

	return string(data), nil
}
