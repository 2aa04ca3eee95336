package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Version identifies a build of execd.
type Version struct {
	Major    string `yaml:"major"`
	Minor    string `yaml:"minor"`
	Revision string `yaml:"revision"`
	Hash     string `yaml:"hash"`
}

func (v Version) String() string {
	version := fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Revision)
	if v.Hash != "" {
		version += fmt.Sprintf(".%s", v.Hash)
	}
	return version
}

// LoadVersion reads version.yaml next to this source file. Falls back to
// "dev" when the file is absent, which is the common case outside a
// packaged release build.
func LoadVersion() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "dev", fmt.Errorf("failed to get current file path")
	}

	dir := filepath.Dir(filename)
	versionPath := filepath.Join(dir, "version.yaml")

	data, err := os.ReadFile(versionPath)
	if err != nil {
		return "dev", fmt.Errorf("failed to read version file: %w", err)
	}

	var version Version
	if err := yaml.Unmarshal(data, &version); err != nil {
		return "dev", fmt.Errorf("failed to parse version file: %w", err)
	}

	return version.String(), nil
}
