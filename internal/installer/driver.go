package installer

import (
	"context"
	"fmt"

	"setup-wsl/internal/hardware"
	"setup-wsl/internal/runner"
)

// Branch is the resolved driver stack for one vendor: commands are already
// rendered for the target user.
type Branch struct {
	Vendor      hardware.Vendor
	Description string
	Setup       []runner.Command
	Packages    []string
	Post        []runner.Command
}

// InstallBranch runs the branch's setup commands, installs its packages and
// then runs its post commands. Setup and post follow RunCommands semantics;
// package failures only land in the report.
func (i *Installer) InstallBranch(ctx context.Context, b Branch) (Report, error) {
	desc := b.Description
	if desc == "" {
		desc = string(b.Vendor) + " drivers"
	}
	i.log.Info("Installing %s...", desc)

	if err := i.RunCommands(ctx, b.Setup); err != nil {
		return Report{}, fmt.Errorf("%s setup failed: %w", b.Vendor, err)
	}

	report := i.InstallAll(ctx, b.Packages)

	if err := i.RunCommands(ctx, b.Post); err != nil {
		return report, fmt.Errorf("%s post-install failed: %w", b.Vendor, err)
	}

	if report.OK() {
		i.log.Info("%s installed", desc)
	}
	return report, nil
}
