package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"setup-wsl/internal/hardware"
)

//go:embed default.yaml
var defaultManifest []byte

// ErrInvalidManifest is wrapped by every validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

// Default returns the built-in manifest.
func Default() (*Manifest, error) {
	m, err := Parse(defaultManifest)
	if err != nil {
		return nil, fmt.Errorf("built-in manifest: %w", err)
	}
	return m, nil
}

// Load reads and validates the manifest at path. An empty path returns the
// built-in manifest.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a YAML manifest, fills in defaults and validates it.
// Unknown keys are rejected so that typos do not silently drop a step.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.PackageManager.Update) == 0 {
		m.PackageManager.Update = []string{"apt-get", "update", "-qq"}
	}
	if len(m.PackageManager.Install) == 0 {
		m.PackageManager.Install = []string{"apt-get", "install", "-y"}
	}
	if m.Report.RDPPort == 0 {
		m.Report.RDPPort = 3389
	}
	if m.Drivers == nil {
		m.Drivers = make(map[hardware.Vendor]Branch)
	}
	if m.Vars == nil {
		m.Vars = make(map[string]string)
	}
}

// reservedVars are supplied by the run and may not be set in vars.
var reservedVars = []string{"User", "Home", "UID"}

// Validate checks the manifest for structural errors.
func (m *Manifest) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidManifest, fmt.Sprintf(format, args...)))
	}

	for vendor := range m.Drivers {
		if !knownVendor(vendor) {
			fail("drivers: unknown vendor %q", vendor)
		}
	}
	for _, name := range reservedVars {
		if _, ok := m.Vars[name]; ok {
			fail("vars: %q is set by the run and cannot be overridden", name)
		}
	}

	checkPackages := func(group string, pkgs []string) {
		for i, p := range pkgs {
			if strings.TrimSpace(p) == "" {
				fail("%s[%d]: empty package name", group, i)
			}
		}
	}
	checkPackages("packages.gui", m.Packages.GUI)
	checkPackages("packages.tools", m.Packages.Tools)

	checkCommands := func(group string, cmds []Command) {
		for i, c := range cmds {
			if len(c.Run) == 0 || c.Run[0] == "" {
				fail("%s[%d]: empty command", group, i)
			}
		}
	}
	checkCommands("post_install.gui", m.PostInstall.GUI)
	checkCommands("post_install.tools", m.PostInstall.Tools)
	for vendor, b := range m.Drivers {
		checkCommands(fmt.Sprintf("drivers.%s.setup", vendor), b.Setup)
		checkCommands(fmt.Sprintf("drivers.%s.post", vendor), b.Post)
		checkPackages(fmt.Sprintf("drivers.%s.packages", vendor), b.Packages)
	}

	checkFiles := func(group string, files []File) {
		seen := make(map[string]bool)
		for i, f := range files {
			if f.Name == "" {
				fail("%s[%d]: missing name", group, i)
			}
			if f.Dest == "" {
				fail("%s[%d] %s: missing dest", group, i, f.Name)
			}
			if seen[f.Dest] {
				fail("%s[%d] %s: duplicate dest %s", group, i, f.Name, f.Dest)
			}
			seen[f.Dest] = true
			if f.Mode != "" {
				if _, err := ParseMode(f.Mode); err != nil {
					fail("%s[%d] %s: %v", group, i, f.Name, err)
				}
			}
		}
	}
	checkFiles("files.system", m.Files.System)
	checkFiles("files.session", m.Files.Session)

	return errors.Join(errs...)
}

// Branch returns the driver branch for vendor. A vendor without an entry
// gets an empty branch.
func (m *Manifest) Branch(vendor hardware.Vendor) Branch {
	return m.Drivers[vendor]
}

// ParseMode parses an octal permission string such as "0755". Only the
// permission bits are accepted; setuid, setgid and sticky are rejected.
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	return os.FileMode(v), nil
}

func knownVendor(v hardware.Vendor) bool {
	for _, known := range hardware.Vendors {
		if v == known {
			return true
		}
	}
	return false
}
