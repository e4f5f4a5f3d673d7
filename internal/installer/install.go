package installer

import (
	"context"
	"strings"

	"setup-wsl/internal/config"
	"setup-wsl/internal/logger"
	"setup-wsl/internal/runner"
)

// Report lists the outcome of an InstallAll call. Installed and Failed keep
// the order in which the packages were requested, and together hold every
// requested package exactly once.
type Report struct {
	Installed []string
	Failed    []string
}

// Requested returns the number of packages the report covers.
func (r Report) Requested() int {
	return len(r.Installed) + len(r.Failed)
}

// OK reports whether every package installed.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Merge returns a report holding r's packages followed by other's.
func (r Report) Merge(other Report) Report {
	return Report{
		Installed: append(append([]string{}, r.Installed...), other.Installed...),
		Failed:    append(append([]string{}, r.Failed...), other.Failed...),
	}
}

// Installer installs packages through the system package manager.
type Installer struct {
	run runner.Runner
	log *logger.Logger
	pm  config.PackageManager
}

// New returns an Installer issuing pm's commands through r.
func New(r runner.Runner, log *logger.Logger, pm config.PackageManager) *Installer {
	return &Installer{run: r, log: log, pm: pm}
}

// UpdateIndex refreshes the package index. It runs in checked mode.
func (i *Installer) UpdateIndex(ctx context.Context) error {
	if len(i.pm.Update) == 0 {
		return nil
	}
	i.log.Info("Updating package index...")
	_, err := i.run.Run(ctx, runner.Command{
		Name:    i.pm.Update[0],
		Args:    i.pm.Update[1:],
		Elevate: true,
		Check:   true,
	})
	return err
}

// InstallAll installs packages one at a time in unchecked mode. A package
// that fails is recorded in the report and the remaining packages are still
// attempted. Once ctx is done the remaining packages are reported failed
// without running anything.
func (i *Installer) InstallAll(ctx context.Context, packages []string) Report {
	report := Report{Installed: []string{}, Failed: []string{}}

	for _, pkg := range packages {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, pkg)
			continue
		}
		if i.installOne(ctx, pkg) {
			report.Installed = append(report.Installed, pkg)
		} else {
			report.Failed = append(report.Failed, pkg)
		}
	}

	if len(report.Failed) > 0 {
		i.log.Warn("Packages not installed: %s", strings.Join(report.Failed, ", "))
		i.log.Warn("Try installing them manually.")
	} else if len(packages) > 0 {
		i.log.Info("All %d packages installed", len(packages))
	}
	return report
}

func (i *Installer) installOne(ctx context.Context, pkg string) bool {
	i.log.Debug("Installing %s", pkg)
	if len(i.pm.Install) == 0 {
		i.log.Error("Failed to install %s: no install command configured", pkg)
		return false
	}

	args := append(append([]string{}, i.pm.Install[1:]...), pkg)
	res, err := i.run.Run(ctx, runner.Command{
		Name:    i.pm.Install[0],
		Args:    args,
		Elevate: true,
	})
	if err != nil {
		i.log.Error("Failed to install %s: %v", pkg, err)
		return false
	}
	if !res.OK() {
		i.log.Error("Failed to install %s (exit code %d)", pkg, res.ExitCode)
		return false
	}
	i.log.Info("%s installed", pkg)
	return true
}

// RunCommands runs cmds in order. A checked command that fails stops the
// list and its error is returned; an unchecked failure is logged and the
// list continues.
func (i *Installer) RunCommands(ctx context.Context, cmds []runner.Command) error {
	for _, c := range cmds {
		res, err := i.run.Run(ctx, c)
		if err != nil {
			return err
		}
		if !res.OK() {
			i.log.Warn("%s exited with code %d, continuing", c, res.ExitCode)
		}
	}
	return nil
}
