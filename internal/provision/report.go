package provision

import (
	"context"
	"strconv"
	"strings"

	"setup-wsl/internal/materializer"
	"setup-wsl/internal/runner"
)

const rule = "============================================================"

// addressCommand prints the host's addresses. It is unchecked; an empty or
// failed answer falls back to localhost.
var addressCommand = runner.Command{Name: "hostname", Args: []string{"-I"}}

func (s *Sequencer) report(ctx context.Context, run *Run) error {
	run.Address = s.hostAddress(ctx)
	total := run.Totals()

	s.log.Info(rule)
	s.log.Info("Setup complete for %s", run.User)
	s.log.Info("GPU: %s", strings.ToUpper(string(run.Vendor)))
	s.log.Info("Packages: %d installed, %d failed", len(total.Installed), len(total.Failed))
	for _, g := range run.Reports {
		s.log.Info("   %s: %d installed, %d failed", g.Group, len(g.Installed), len(g.Failed))
	}
	if !total.OK() {
		s.log.Warn("Failed packages: %s", strings.Join(total.Failed, ", "))
	}
	s.log.Info("IP address: %s", run.Address)

	vars := run.vars(s.manifest.Vars)
	vars["Address"] = run.Address
	vars["Port"] = strconv.Itoa(s.manifest.Report.RDPPort)
	vars["Vendor"] = string(run.Vendor)
	for i, note := range s.manifest.Report.Notes {
		text, err := materializer.Render("report.notes["+strconv.Itoa(i)+"]", note, vars)
		if err != nil {
			s.log.Warn("%v", err)
			continue
		}
		s.log.Info("%s", text)
	}
	if path := s.log.FilePath(); path != "" {
		s.log.Info("Log file: %s", path)
	}
	s.log.Info(rule)
	return nil
}

func (s *Sequencer) hostAddress(ctx context.Context) string {
	res, err := s.run.Run(ctx, addressCommand)
	if err != nil || !res.OK() {
		return "localhost"
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "localhost"
	}
	return fields[0]
}
