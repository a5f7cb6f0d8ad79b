package builder

import (
	"fmt"
	"slices"
)

// MSVC toolchain executables. Resolution of the actual paths is the shell
// executor's problem (see msvc.go); commands reference the tools by name.
const (
	toolCompiler = "CL.EXE"
	toolLinker   = "LINK.EXE"
	toolLibMgr   = "LIB.EXE"
)

// compiler flags
const (
	cflagExcMode         = "/EHsc"
	cflagStandard        = "/std:c++latest"
	cflagStandardC       = "/std:c17"
	cflagDebug           = "/Zi"
	cflagWAll            = "/Wall"
	cflagWError          = "/WX"
	cflagObjPath         = "/Fo"
	cflagPdbPath         = "/Fd"
	cflagExePath         = "/Fe"
	cflagLinkless        = "/c"
	cflagNoOptimize      = "/Od"
	cflagInlineExpansion = "/Ob2"
	cflagWholeProgramOpt = "/GL"
)

// linker flags
const (
	lflagWError    = "/WX"
	lflagDebugFull = "/DEBUG:FULL"
	lflagLTCG      = "/LTCG"
	lflagDLL       = "/DLL"
)

// module and header-unit interface flags
const (
	ifcFlagTranslationUnit  = "/TP"
	ifcFlagInterface        = "/interface"
	ifcFlagExportHeader     = "/exportHeader"
	ifcFlagHeaderNameAngle  = "/headerName:angle"
	ifcFlagHeaderUnitAngle  = "/headerUnit:angle"
	ifcFlagSearchDir        = "/ifcSearchDir"
	ifcFlagOutput           = "/ifcOutput"
	ifcFlagMap              = "/ifcMap"
)

// Variant selects a named compiler/linker flag set.
type Variant string

const (
	VariantDebug   Variant = "debug"
	VariantRelease Variant = "release"
	VariantCustom  Variant = "custom"
)

var variantCflags = map[Variant][]string{
	VariantDebug: {
		cflagExcMode, cflagStandard, cflagWAll, cflagWError,
		cflagDebug, cflagNoOptimize,
	},
	VariantRelease: {
		cflagExcMode, cflagStandard, cflagWAll, cflagWError,
		cflagInlineExpansion, cflagWholeProgramOpt,
	},
}

var variantLflags = map[Variant][]string{
	VariantDebug:   {lflagWError, lflagDebugFull},
	VariantRelease: {lflagWError, lflagLTCG},
}

// Config is an immutable set of compiler and linker flags, selected by
// variant at construction time. Extra link inputs (library artifacts) are
// appended with Link.
type Config struct {
	Variant Variant
	cflags  []string
	lflags  []string
}

// NewConfig constructs a Config from one of the named flag tables.
func NewConfig(variant Variant) (*Config, error) {
	cflags, ok := variantCflags[variant]
	if !ok {
		return nil, fmt.Errorf("unknown configuration variant %q", variant)
	}
	return &Config{
		Variant: variant,
		cflags:  slices.Clone(cflags),
		lflags:  slices.Clone(variantLflags[variant]),
	}, nil
}

// NewCustomConfig constructs a Config with caller-provided flag lists.
func NewCustomConfig(cflags, lflags []string) *Config {
	return &Config{
		Variant: VariantCustom,
		cflags:  slices.Clone(cflags),
		lflags:  slices.Clone(lflags),
	}
}

// Link returns a copy of the Config extended with additional link inputs.
func (c *Config) Link(libraries ...string) *Config {
	return &Config{
		Variant: c.Variant,
		cflags:  slices.Clone(c.cflags),
		lflags:  append(slices.Clone(c.lflags), libraries...),
	}
}

func (c *Config) CompilerArgs() []string { return slices.Clone(c.cflags) }
func (c *Config) LinkerArgs() []string   { return slices.Clone(c.lflags) }
