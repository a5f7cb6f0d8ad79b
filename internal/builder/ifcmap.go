package builder

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// IfcMapFilename is the per-project interface-map manifest, written next to
// the output artifact.
const IfcMapFilename = "ifcMap.toml"

// HeaderUnitRecord is one exported header unit in an interface map. Name is
// the MSVC lookup pair, e.g. ['angle', 'core/greeter.hxx'].
type HeaderUnitRecord struct {
	Name []string `toml:"name"`
	Ifc  string   `toml:"ifc"`
}

// ModuleRecord is one exported module interface in an interface map.
type ModuleRecord struct {
	Name string `toml:"name"`
	Ifc  string `toml:"ifc"`
}

// InterfaceMap is the persisted manifest of a project's exported interfaces,
// consumed by downstream projects through /ifcMap.
type InterfaceMap struct {
	HeaderUnits []HeaderUnitRecord `toml:"header-unit,omitempty"`
	Modules     []ModuleRecord     `toml:"module,omitempty"`
}

// ParseInterfaceMap reads an ifcMap.toml back into memory.
func ParseInterfaceMap(path string) (*InterfaceMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m InterfaceMap
	dec := toml.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&m); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}
	return &m, nil
}

// WriteFile serializes the map; header-unit records first, then modules, in
// registration order.
func (m *InterfaceMap) WriteFile(path string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize interface map: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
