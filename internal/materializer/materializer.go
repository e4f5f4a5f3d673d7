// Package materializer renders configuration templates and installs them at
// their system paths.
//
// A file is rendered in-process, written to a private staging directory and
// then copied into place with elevated commands, followed by optional chmod
// and chown fix-ups. Installing the same file twice leaves the destination
// in the same state.
package materializer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"text/template"

	"setup-wsl/internal/logger"
	"setup-wsl/internal/runner"
)

// DefaultMode is applied to files installed without an explicit Mode.
const DefaultMode os.FileMode = 0644

// ErrSymlink is returned when a destination, its ChownDir or a directory
// between Within and the destination is a symbolic link.
var ErrSymlink = errors.New("refusing to write through a symbolic link")

// File is one configuration file to install. Dest, Owner, ChownDir, Within
// and Template are rendered with Vars before use.
type File struct {
	Name     string
	Template string
	Vars     map[string]string
	Dest     string
	Owner    string      // chown owner:owner on Dest when set
	Mode     os.FileMode // chmod on Dest; DefaultMode when zero
	ChownDir string      // chown -R owner:owner on this directory when set with Owner
	Within   string      // directory the user controls, e.g. their home
}

// Outcome describes an installed file.
type Outcome struct {
	Dest   string
	Owner  string
	Mode   os.FileMode
	SHA256 string
}

// Materializer installs Files. It is not safe for concurrent use.
type Materializer struct {
	run      runner.Runner
	log      *logger.Logger
	tempRoot string
	stageDir string
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithStagingRoot sets the parent of the staging directory. Defaults to
// os.TempDir().
func WithStagingRoot(dir string) Option {
	return func(m *Materializer) { m.tempRoot = dir }
}

// New returns a Materializer that relocates files through r.
func New(r runner.Runner, log *logger.Logger, opts ...Option) *Materializer {
	m := &Materializer{run: r, log: log}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Render executes text as a Go template over vars. A reference to a
// variable that is not in vars is an error.
func Render(name, text string, vars map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return b.String(), nil
}

// Install renders f, stages it and copies it to its destination. Every
// failure is returned; relocation commands run in checked mode.
func (m *Materializer) Install(ctx context.Context, f File) (Outcome, error) {
	dest, err := Render(f.Name+".dest", f.Dest, f.Vars)
	if err != nil {
		return Outcome{}, err
	}
	owner, err := Render(f.Name+".owner", f.Owner, f.Vars)
	if err != nil {
		return Outcome{}, err
	}
	chownDir, err := Render(f.Name+".chown_dir", f.ChownDir, f.Vars)
	if err != nil {
		return Outcome{}, err
	}
	within, err := Render(f.Name+".within", f.Within, f.Vars)
	if err != nil {
		return Outcome{}, err
	}
	content, err := Render(f.Name, f.Template, f.Vars)
	if err != nil {
		return Outcome{}, err
	}
	if dest == "" || !filepath.IsAbs(dest) {
		return Outcome{}, fmt.Errorf("destination of %s must be an absolute path, got %q", f.Name, dest)
	}

	if err := checkNoSymlinks(dest, chownDir, within); err != nil {
		return Outcome{}, err
	}
	mode := f.Mode.Perm()
	if mode == 0 {
		mode = DefaultMode
	}

	m.log.Info("Configuring %s...", dest)

	staged, err := m.stage(dest, content)
	if err != nil {
		return Outcome{}, err
	}

	// --remove-destination unlinks dest first, so a link planted after the
	// check above is replaced rather than followed.
	cmds := []runner.Command{
		{Name: "mkdir", Args: []string{"-p", filepath.Dir(dest)}},
		{Name: "cp", Args: []string{"--remove-destination", staged, dest}},
		{Name: "chmod", Args: []string{fmt.Sprintf("%04o", uint32(mode)), dest}},
	}
	if owner != "" {
		spec := owner + ":" + owner
		cmds = append(cmds, runner.Command{Name: "chown", Args: []string{"-h", spec, dest}})
		if chownDir != "" {
			cmds = append(cmds, runner.Command{Name: "chown", Args: []string{"-R", spec, chownDir}})
		}
	}
	for _, c := range cmds {
		c.Elevate = true
		c.Check = true
		if _, err := m.run.Run(ctx, c); err != nil {
			return Outcome{}, fmt.Errorf("failed to install %s: %w", dest, err)
		}
	}

	sum := sha256.Sum256([]byte(content))
	out := Outcome{Dest: dest, Owner: owner, Mode: mode, SHA256: hex.EncodeToString(sum[:])}
	m.log.Info("%s configured", dest)
	return out, nil
}

// checkNoSymlinks fails when dest or chownDir is a symbolic link, or when
// any existing directory strictly below within on the way to dest is one.
// Paths that do not exist yet are fine; mkdir creates them as directories.
func checkNoSymlinks(dest, chownDir, within string) error {
	paths := []string{dest}
	if chownDir != "" {
		paths = append(paths, chownDir)
	}
	if within != "" {
		for dir := filepath.Dir(dest); isBelow(dir, within); dir = filepath.Dir(dir) {
			paths = append(paths, dir)
		}
	}

	for _, p := range paths {
		info, err := os.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", p, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlink, p)
		}
	}
	return nil
}

// isBelow reports whether dir lies strictly inside root.
func isBelow(dir, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dir))
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, "../")
}

// stage writes content to a new file in the private staging directory.
func (m *Materializer) stage(dest, content string) (string, error) {
	if m.stageDir == "" {
		dir, err := os.MkdirTemp(m.tempRoot, "setup-wsl-")
		if err != nil {
			return "", fmt.Errorf("failed to create staging directory: %w", err)
		}
		if err := os.Chmod(dir, 0700); err != nil {
			return "", fmt.Errorf("failed to restrict staging directory: %w", err)
		}
		m.stageDir = dir
	}

	out, err := os.CreateTemp(m.stageDir, filepath.Base(dest)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file for %s: %w", dest, err)
	}
	if _, err := out.WriteString(content); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("failed to write staging file for %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close staging file for %s: %w", dest, err)
	}
	m.log.Debug("Staged %s at %s", dest, out.Name())
	return out.Name(), nil
}

// Close removes the staging directory.
func (m *Materializer) Close() error {
	if m.stageDir == "" {
		return nil
	}
	err := os.RemoveAll(m.stageDir)
	m.stageDir = ""
	return err
}
