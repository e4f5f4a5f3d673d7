// Package hardware classifies the GPU vendor of the machine from the text
// of a PCI device listing.
package hardware

import (
	"context"
	"fmt"
	"strings"

	"setup-wsl/internal/logger"
	"setup-wsl/internal/runner"
)

// Vendor is the detected GPU vendor. It selects the driver branch.
type Vendor string

const (
	VendorNVIDIA  Vendor = "nvidia"
	VendorAMD     Vendor = "amd"
	VendorIntel   Vendor = "intel"
	VendorUnknown Vendor = "unknown"
)

// Vendors lists every vendor tag in classification priority order.
var Vendors = []Vendor{VendorNVIDIA, VendorAMD, VendorIntel, VendorUnknown}

// Rule maps a set of lower-case keywords to a vendor. A rule matches when
// any one of its keywords occurs in the listing.
type Rule struct {
	Vendor   Vendor
	Keywords []string
}

// DefaultRules is the classification order: nvidia, then amd, then intel.
var DefaultRules = []Rule{
	{Vendor: VendorNVIDIA, Keywords: []string{"nvidia"}},
	{Vendor: VendorAMD, Keywords: []string{"amd", "radeon", "advanced micro devices"}},
	{Vendor: VendorIntel, Keywords: []string{"intel"}},
}

// Classify returns the vendor for a device listing using DefaultRules.
func Classify(listing string) Vendor {
	return ClassifyWith(DefaultRules, listing)
}

// ClassifyWith walks rules in order and returns the vendor of the first
// rule with a keyword in listing. Matching is case-insensitive. It returns
// VendorUnknown when no rule matches.
func ClassifyWith(rules []Rule, listing string) Vendor {
	text := strings.ToLower(listing)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return rule.Vendor
			}
		}
	}
	return VendorUnknown
}

// ListCommand enumerates PCI devices. It is read-only and unchecked.
var ListCommand = runner.Command{Name: "lspci", Args: []string{"-v"}}

// Detector runs the device listing and classifies its output.
type Detector struct {
	run   runner.Runner
	log   *logger.Logger
	rules []Rule
}

// NewDetector returns a Detector using DefaultRules.
func NewDetector(r runner.Runner, log *logger.Logger) *Detector {
	return &Detector{run: r, log: log, rules: DefaultRules}
}

// WithRules returns a copy of d using rules instead of DefaultRules.
func (d *Detector) WithRules(rules []Rule) *Detector {
	cp := *d
	cp.rules = rules
	return &cp
}

// Detect lists PCI devices and classifies them. A failed listing is not an
// error: it is logged as a warning and reported as VendorUnknown. The only
// error returned is ctx's, when the run was cancelled.
func (d *Detector) Detect(ctx context.Context) (Vendor, error) {
	d.log.Info("Detecting GPU vendor...")
	res, err := d.run.Run(ctx, ListCommand)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return VendorUnknown, fmt.Errorf("%w: GPU detection interrupted: %w", runner.ErrTimeout, ctxErr)
	}
	if err != nil || !res.OK() {
		if err != nil {
			d.log.Warn("Could not run %s: %v. Falling back to CPU OpenCL.", ListCommand, err)
		} else {
			d.log.Warn("%s exited with code %d. Falling back to CPU OpenCL.", ListCommand, res.ExitCode)
		}
		return VendorUnknown, nil
	}

	vendor := ClassifyWith(d.rules, res.Stdout)
	d.log.Info("Detected GPU: %s", strings.ToUpper(string(vendor)))
	return vendor, nil
}
