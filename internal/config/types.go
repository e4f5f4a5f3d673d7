package config

import "setup-wsl/internal/hardware"

// Manifest declares everything a provisioning run installs and writes.
// It is loaded from YAML; see default.yaml for the built-in manifest.
type Manifest struct {
	PackageManager PackageManager             `yaml:"package_manager"`
	Packages       Packages                   `yaml:"packages"`
	PostInstall    PostInstall                `yaml:"post_install"`
	Files          Files                      `yaml:"files"`
	Drivers        map[hardware.Vendor]Branch `yaml:"drivers"`
	Vars           map[string]string          `yaml:"vars"`
	Report         Report                     `yaml:"report"`
}

// PackageManager holds the argv prefixes used to refresh the package index
// and to install one package. The package name is appended to Install.
type PackageManager struct {
	Update  []string `yaml:"update"`
	Install []string `yaml:"install"`
}

// Packages lists the GUI and tooling packages, in install order.
type Packages struct {
	GUI   []string `yaml:"gui"`
	Tools []string `yaml:"tools"`
}

// PostInstall holds commands run after a package group has been installed.
type PostInstall struct {
	GUI   []Command `yaml:"gui"`
	Tools []Command `yaml:"tools"`
}

// Files groups the configuration files written by the two configure steps.
// - System: files outside the user's home (boot config, window-manager start script).
// - Session: per-user session, profile, keyboard layout and autostart files.
type Files struct {
	System  []File `yaml:"system"`
	Session []File `yaml:"session"`
}

// File is a configuration file to materialize. Dest, Owner and Template
// are Go templates rendered with the run variables (User, Home, UID and
// everything in Manifest.Vars).
type File struct {
	Name     string `yaml:"name"`
	Dest     string `yaml:"dest"`
	Owner    string `yaml:"owner"`     // chown owner:owner when set
	Mode     string `yaml:"mode"`      // octal permission bits, e.g. "0755"; empty means 0644
	ChownDir string `yaml:"chown_dir"` // directory to chown -R after the copy
	Template string `yaml:"template"`
}

// Command is an argv run with elevated privilege. Args are templates
// rendered like File.Dest.
type Command struct {
	Run   []string `yaml:"run"`
	Check bool     `yaml:"check"` // non-zero exit aborts the step
	Stdin string   `yaml:"stdin"`
}

// Branch is the driver stack for one GPU vendor.
// - Setup: repository and key commands, run before the packages.
// - Packages: installed one by one, failures do not abort.
// - Post: commands run after the packages, e.g. group membership or a smoke test.
type Branch struct {
	Description string    `yaml:"description"`
	Setup       []Command `yaml:"setup"`
	Packages    []string  `yaml:"packages"`
	Post        []Command `yaml:"post"`
}

// Report configures the connection hints printed at the end of a run.
type Report struct {
	RDPPort int      `yaml:"rdp_port"`
	Notes   []string `yaml:"notes"`
}
