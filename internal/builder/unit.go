package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UnitKind tags a source file with the compilation path it takes.
type UnitKind int

const (
	// UnitPlain is an independent C++ translation unit (.cpp).
	UnitPlain UnitKind = iota
	// UnitPlainC is a C translation unit (.c), compiled with /std:c17 and a
	// reduced flag set.
	UnitPlainC
	// UnitHeader is an importable header unit (.hxx), exported before any
	// consumer compiles.
	UnitHeader
	// UnitModuleInterface is a module interface unit (.ixx).
	UnitModuleInterface
	// UnitModuleImpl is a module implementation unit (.cxx).
	UnitModuleImpl
)

func (k UnitKind) String() string {
	switch k {
	case UnitPlain:
		return "translation unit"
	case UnitPlainC:
		return "C translation unit"
	case UnitHeader:
		return "header unit"
	case UnitModuleInterface:
		return "module interface"
	case UnitModuleImpl:
		return "module implementation"
	}
	return "unknown unit"
}

// Unit is a source file plus its classification. Immutable once produced.
type Unit struct {
	Kind UnitKind
	Path string
}

var unitExtensions = map[string]UnitKind{
	".cpp": UnitPlain,
	".c":   UnitPlainC,
	".hxx": UnitHeader,
	".ixx": UnitModuleInterface,
	".cxx": UnitModuleImpl,
}

// ClassifyUnit determines the unit kind from the file extension.
func ClassifyUnit(path string) (Unit, error) {
	ext := filepath.Ext(path)
	kind, ok := unitExtensions[ext]
	if !ok {
		return Unit{}, fmt.Errorf("unsupported source type %q: %s", ext, path)
	}
	return Unit{Kind: kind, Path: path}, nil
}

// dotPath converts a relative source path into a flat dotted logical name,
// e.g. "core/api.ixx" -> "core.api.ixx". With stripExt the source extension
// is removed first; addExt is appended last.
func dotPath(path string, addExt string, stripExt bool) string {
	if stripExt {
		path = strings.TrimSuffix(path, filepath.Ext(path))
	}
	path += addExt
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}

// shouldRebuild reports whether the derived artifact is stale relative to its
// source. Pure timestamp comparison; a missing source is an error.
func shouldRebuild(src, dst string) (bool, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("source file %s does not exist: %w", src, err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return srcInfo.ModTime().After(dstInfo.ModTime()), nil
}
