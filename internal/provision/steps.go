package provision

import (
	"context"
	"errors"

	"setup-wsl/internal/hardware"
	"setup-wsl/internal/installer"
)

// StepID names a state of the provisioning pipeline.
type StepID string

const (
	StateInit             StepID = "INIT"
	StepValidatePrivilege StepID = "VALIDATE_PRIVILEGE"
	StepValidateUser      StepID = "VALIDATE_USER"
	StepConfigureSystem   StepID = "CONFIGURE_SYSTEM"
	StepConfigureSession  StepID = "CONFIGURE_SESSION"
	StepInstallGUI        StepID = "INSTALL_GUI_PACKAGES"
	StepInstallTools      StepID = "INSTALL_TOOL_PACKAGES"
	StepDetectHardware    StepID = "DETECT_HARDWARE"
	StepInstallNVIDIA     StepID = "INSTALL_NVIDIA"
	StepInstallAMD        StepID = "INSTALL_AMD"
	StepInstallIntel      StepID = "INSTALL_INTEL"
	StepInstallCPU        StepID = "INSTALL_CPU_FALLBACK"
	StepReport            StepID = "REPORT"
	StateDone             StepID = "DONE"
	StateAborted          StepID = "ABORTED"
)

// branchSteps maps each vendor to the step installing its driver stack.
var branchSteps = map[hardware.Vendor]StepID{
	hardware.VendorNVIDIA:  StepInstallNVIDIA,
	hardware.VendorAMD:     StepInstallAMD,
	hardware.VendorIntel:   StepInstallIntel,
	hardware.VendorUnknown: StepInstallCPU,
}

// Criticality decides what a failing step does to the run.
type Criticality int

const (
	// Critical failures abort the run with exit code 1.
	Critical Criticality = iota
	// BestEffort failures are logged as warnings and the run continues.
	BestEffort
)

func (c Criticality) String() string {
	if c == Critical {
		return "critical"
	}
	return "best-effort"
}

var (
	// ErrPrecheck is wrapped by privilege and user validation failures.
	ErrPrecheck = errors.New("pre-flight check failed")
	// ErrCriticalStep is wrapped by the error of an aborted run.
	ErrCriticalStep = errors.New("critical step failed")
)

// Step is one unit of the pipeline. When is nil for unconditional steps;
// otherwise the step only runs if When reports true for the run so far.
type Step struct {
	ID          StepID
	Description string
	Criticality Criticality
	When        func(*Run) bool
	Action      func(ctx context.Context, run *Run) error
}

// GroupReport is the install report of one package group.
type GroupReport struct {
	Group string
	installer.Report
}

// Run carries what one invocation learns as it moves through the steps.
type Run struct {
	ID      string
	User    string
	UID     string
	Home    string
	Vendor  hardware.Vendor
	Address string
	Reports []GroupReport

	// Aborted is the step that stopped the run, empty when it completed.
	Aborted StepID
	Err     error
}

// Totals sums every group report.
func (r *Run) Totals() installer.Report {
	total := installer.Report{Installed: []string{}, Failed: []string{}}
	for _, g := range r.Reports {
		total = total.Merge(g.Report)
	}
	return total
}

// vars returns the template variables for this run: manifest vars plus
// User, Home and UID.
func (r *Run) vars(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+3)
	for k, v := range base {
		out[k] = v
	}
	out["User"] = r.User
	out["Home"] = r.Home
	out["UID"] = r.UID
	return out
}

func (r *Run) addReport(group string, rep installer.Report) {
	r.Reports = append(r.Reports, GroupReport{Group: group, Report: rep})
}
