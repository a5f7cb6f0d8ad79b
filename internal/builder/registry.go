package builder

import (
	"fmt"
	"slices"
)

// ObjectRegistry records every object artifact produced in the current build
// session. The ordered included list is what the archiver/linker consumes;
// linked library artifacts join it too.
type ObjectRegistry struct {
	compiled map[string]string // object path -> source path
	included []string
}

func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{compiled: make(map[string]string)}
}

// Register maps an object artifact to its source and returns the /Fo output
// flag. Registering the same object path twice is a configuration error.
func (r *ObjectRegistry) Register(src, obj string) (string, error) {
	if prev, ok := r.compiled[obj]; ok {
		return "", fmt.Errorf("object file %s already registered: src is %s, previously %s", obj, src, prev)
	}
	r.compiled[obj] = src
	r.included = append(r.included, obj)
	return cflagObjPath + obj, nil
}

// AddArtifact appends a prebuilt artifact (a linked library's output) to the
// included list without registering a producer.
func (r *ObjectRegistry) AddArtifact(path string) {
	r.included = append(r.included, path)
}

func (r *ObjectRegistry) Included() []string { return slices.Clone(r.included) }

type headerUnitEntry struct {
	Source string
	Ifc    string
}

// HeaderUnitRegistry records exported header units and accumulates the
// /headerUnit:angle replay directives every subsequent compile appends.
type HeaderUnitRegistry struct {
	exported map[string]string // header source -> interface artifact
	order    []headerUnitEntry
	replay   []string
}

func NewHeaderUnitRegistry() *HeaderUnitRegistry {
	return &HeaderUnitRegistry{exported: make(map[string]string)}
}

// Register records an exported header unit and returns the directives that
// mark the compile as an exporting one. The replay list gains the consuming
// directive pair, in registration order.
func (r *HeaderUnitRegistry) Register(hxx, ifc string) ([]string, error) {
	if _, ok := r.exported[hxx]; ok {
		return nil, fmt.Errorf("header unit %s is already exported", hxx)
	}
	r.exported[hxx] = ifc
	r.order = append(r.order, headerUnitEntry{Source: hxx, Ifc: ifc})
	r.replay = append(r.replay, ifcFlagHeaderUnitAngle, hxx+"="+ifc)
	return []string{ifcFlagExportHeader, ifcFlagHeaderNameAngle, hxx}, nil
}

// ReplayArgs returns the accumulated include directives for every exported
// header unit, in registration order.
func (r *HeaderUnitRegistry) ReplayArgs() []string { return slices.Clone(r.replay) }

func (r *HeaderUnitRegistry) Len() int                  { return len(r.order) }
func (r *HeaderUnitRegistry) Exported() []headerUnitEntry { return slices.Clone(r.order) }

type moduleEntry struct {
	Name string
	Ifc  string
}

// ModuleRegistry records exported module interfaces by logical name.
type ModuleRegistry struct {
	exported map[string]string // module name -> interface artifact
	order    []moduleEntry
}

func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{exported: make(map[string]string)}
}

// Register records a module interface and returns the directives marking the
// compile as a module-interface compile. Module names are unique per project.
func (r *ModuleRegistry) Register(ixx, name, ifc string) ([]string, error) {
	if _, ok := r.exported[name]; ok {
		return nil, fmt.Errorf("module %s already exists", name)
	}
	r.exported[name] = ifc
	r.order = append(r.order, moduleEntry{Name: name, Ifc: ifc})
	return []string{ifcFlagInterface, ixx}, nil
}

func (r *ModuleRegistry) Len() int              { return len(r.order) }
func (r *ModuleRegistry) Exported() []moduleEntry { return slices.Clone(r.order) }

// IfcMapRegistry holds interface maps published by linked library projects.
// Their /ifcMap directives are prepended to every subsequent compile.
type IfcMapRegistry struct {
	external map[string]string // library name -> map path
	order    []string
}

func NewIfcMapRegistry() *IfcMapRegistry {
	return &IfcMapRegistry{external: make(map[string]string)}
}

func (r *IfcMapRegistry) Register(name, path string) error {
	if _, ok := r.external[name]; ok {
		return fmt.Errorf("interface map for library %s is already registered", name)
	}
	r.external[name] = path
	r.order = append(r.order, name)
	return nil
}

func (r *IfcMapRegistry) Has(name string) bool {
	_, ok := r.external[name]
	return ok
}

func (r *IfcMapRegistry) CompilerArgs() []string {
	args := make([]string, 0, len(r.order)*2)
	for _, name := range r.order {
		args = append(args, ifcFlagMap, r.external[name])
	}
	return args
}
