package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/heaths/go-vssetup"
)

// findDevCmd locates VsDevCmd.bat of the newest installed Visual Studio
// instance.
func findDevCmd() (string, error) {
	instances, err := vssetup.Instances(false)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", errors.New("no Visual Studio instances found")
	}

	var bestPath, bestVersion string
	for _, instance := range instances {
		defer instance.Close()
		version, err := instance.InstallationVersion()
		if err != nil {
			continue
		}
		path, err := instance.InstallationPath()
		if err != nil {
			continue
		}
		if bestVersion == "" || version > bestVersion {
			bestVersion = version
			bestPath = path
		}
	}
	if bestPath == "" {
		return "", errors.New("no usable Visual Studio instance")
	}

	devCmd := filepath.Join(bestPath, "Common7", "Tools", "VsDevCmd.bat")
	if _, err := os.Stat(devCmd); err != nil {
		return "", fmt.Errorf("VsDevCmd.bat not found in %s: %w", bestPath, err)
	}
	return devCmd, nil
}
