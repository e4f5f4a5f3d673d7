// Package provision runs the ordered provisioning pipeline for one user.
//
// The Sequencer walks a fixed list of steps. Critical steps abort the run
// on failure; best-effort steps log a warning and the run continues. One
// driver branch is chosen from the detected GPU vendor, and the run ends
// with a summary report. Every step is idempotent, so a failed run is
// recovered by running it again.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"setup-wsl/internal/config"
	"setup-wsl/internal/hardware"
	"setup-wsl/internal/installer"
	"setup-wsl/internal/logger"
	"setup-wsl/internal/materializer"
	"setup-wsl/internal/runner"
	"setup-wsl/internal/state"
)

// usernamePattern accepts what adduser accepts by default. A leading '-'
// would be read as an option by id and getent.
var usernamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*\$?$`)

// Sequencer drives one provisioning run at a time.
type Sequencer struct {
	run      runner.Runner
	log      *logger.Logger
	manifest *config.Manifest

	checkPrivilege func() error
	statePath      string
	stagingRoot    string
	newID          func() string
	now            func() time.Time

	materializer *materializer.Materializer
	installer    *installer.Installer
	detector     *hardware.Detector

	trace  []StepID
	record *state.Record
	last   *Run
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithPrivilegeCheck replaces the effective-UID check of VALIDATE_PRIVILEGE.
func WithPrivilegeCheck(check func() error) Option {
	return func(s *Sequencer) { s.checkPrivilege = check }
}

// WithStatePath enables the run record, written at the end of every run
// that got past user validation.
func WithStatePath(path string) Option {
	return func(s *Sequencer) { s.statePath = path }
}

// WithStagingRoot sets where rendered files are staged before relocation.
func WithStagingRoot(dir string) Option {
	return func(s *Sequencer) { s.stagingRoot = dir }
}

// WithRunID overrides the run ID generator.
func WithRunID(newID func() string) Option {
	return func(s *Sequencer) { s.newID = newID }
}

// WithClock overrides the time source used for the run record.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// New returns a Sequencer provisioning from m through r.
func New(r runner.Runner, log *logger.Logger, m *config.Manifest, opts ...Option) *Sequencer {
	s := &Sequencer{
		run:      r,
		log:      log,
		manifest: m,
		checkPrivilege: func() error {
			_, err := runner.AcquirePrivilege()
			return err
		},
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.installer = installer.New(r, log, m.PackageManager)
	s.detector = hardware.NewDetector(r, log)
	return s
}

// Steps returns the pipeline in execution order.
func (s *Sequencer) Steps() []Step {
	steps := []Step{
		{ID: StepValidatePrivilege, Description: "Checking privileges", Criticality: Critical, Action: s.validatePrivilege},
		{ID: StepValidateUser, Description: "Validating user", Criticality: Critical, Action: s.validateUser},
		{ID: StepConfigureSystem, Description: "Configuring system files", Criticality: Critical, Action: s.configureSystem},
		{ID: StepConfigureSession, Description: "Configuring desktop session", Criticality: Critical, Action: s.configureSession},
		{ID: StepInstallGUI, Description: "Installing GUI packages", Criticality: BestEffort, Action: s.installGUI},
		{ID: StepInstallTools, Description: "Installing tools", Criticality: BestEffort, Action: s.installTools},
		{ID: StepDetectHardware, Description: "Detecting hardware", Criticality: BestEffort, Action: s.detectHardware},
	}
	for _, vendor := range hardware.Vendors {
		vendor := vendor
		steps = append(steps, Step{
			ID:          branchSteps[vendor],
			Description: "Installing " + string(vendor) + " driver stack",
			Criticality: Critical,
			When:        func(r *Run) bool { return r.Vendor == vendor },
			Action:      func(ctx context.Context, r *Run) error { return s.installBranch(ctx, r, vendor) },
		})
	}
	return append(steps, Step{ID: StepReport, Description: "Summarizing", Criticality: BestEffort, Action: s.report})
}

// Trace returns the states visited by the last run, INIT first and DONE or
// ABORTED last. Skipped branch steps do not appear.
func (s *Sequencer) Trace() []StepID {
	return append([]StepID(nil), s.trace...)
}

// Last returns the state of the last run, or nil before the first one.
func (s *Sequencer) Last() *Run {
	return s.last
}

// Run provisions username and returns the process exit code: 0 when the
// run reached REPORT, 1 when a critical step failed or ctx was cancelled.
func (s *Sequencer) Run(ctx context.Context, username string) int {
	run := &Run{ID: s.newID(), User: username}
	s.last = run
	s.trace = []StepID{StateInit}
	s.record = state.NewRecord(run.ID, username, s.now())
	s.materializer = materializer.New(s.run, s.log, materializer.WithStagingRoot(s.stagingRoot))
	defer func() {
		if err := s.materializer.Close(); err != nil {
			s.log.Warn("Failed to remove staging directory: %v", err)
		}
	}()
	defer s.log.SetStep("")

	s.log.Info("Setting up WSL for user: %s", username)
	s.log.Debug("Run ID: %s", run.ID)

	for _, step := range s.Steps() {
		if step.When != nil && !step.When(run) {
			continue
		}
		s.trace = append(s.trace, step.ID)
		s.log.SetStep(string(step.ID))
		if err := interrupted(ctx); err != nil {
			return s.abort(run, step, err)
		}
		s.log.Info("%s...", step.Description)

		err := step.Action(ctx, run)
		if cause := interrupted(ctx); cause != nil && !errors.Is(err, ctx.Err()) {
			err = errors.Join(err, cause)
		}
		if err == nil {
			s.record.Steps = append(s.record.Steps, string(step.ID))
			continue
		}
		// A cancelled run stops even in a best-effort step.
		if step.Criticality == Critical || ctx.Err() != nil {
			return s.abort(run, step, err)
		}
		s.log.Warn("%s finished with errors: %v", step.ID, err)
		s.record.Steps = append(s.record.Steps, string(step.ID))
	}

	s.log.SetStep("")
	s.trace = append(s.trace, StateDone)
	s.save(run, 0)
	return 0
}

// interrupted returns an ErrTimeout-class error once ctx is done.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: run interrupted: %w", runner.ErrTimeout, err)
	}
	return nil
}

func (s *Sequencer) abort(run *Run, step Step, err error) int {
	run.Aborted = step.ID
	run.Err = fmt.Errorf("%w: %s: %w", ErrCriticalStep, step.ID, err)
	s.trace = append(s.trace, StateAborted)
	s.log.Error("%v", err)
	s.log.SetStep("")
	s.log.Error("Setup aborted at %s. Fix the problem above and run again; completed steps are safe to repeat.", step.ID)

	// Nothing has been written when validation fails, including the record.
	if step.ID != StepValidatePrivilege && step.ID != StepValidateUser {
		s.save(run, 1)
	}
	return 1
}

func (s *Sequencer) save(run *Run, code int) {
	if s.statePath == "" {
		return
	}
	s.record.FinishedAt = s.now()
	s.record.ExitCode = code
	s.record.Vendor = string(run.Vendor)
	s.record.AbortedAt = string(run.Aborted)
	s.record.LogFile = s.log.FilePath()
	for _, g := range run.Reports {
		s.record.Packages[g.Group] = state.PackageState{Installed: g.Installed, Failed: g.Failed}
	}
	if err := state.Save(s.statePath, s.record, s.log); err != nil {
		s.log.Warn("Could not save run record: %v", err)
	}
}

func (s *Sequencer) validatePrivilege(context.Context, *Run) error {
	if err := s.checkPrivilege(); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecheck, err)
	}
	return nil
}

func (s *Sequencer) validateUser(ctx context.Context, run *Run) error {
	if !usernamePattern.MatchString(run.User) {
		return fmt.Errorf("%w: %q is not a valid user name", ErrPrecheck, run.User)
	}

	res, err := s.run.Run(ctx, runner.Command{Name: "id", Args: []string{"-u", run.User}})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrecheck, err)
	}
	if !res.OK() {
		return fmt.Errorf("%w: user %q does not exist", ErrPrecheck, run.User)
	}
	run.UID = strings.TrimSpace(res.Stdout)

	res, err = s.run.Run(ctx, runner.Command{Name: "getent", Args: []string{"passwd", run.User}})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrecheck, err)
	}
	fields := strings.Split(strings.TrimSpace(res.Stdout), ":")
	if !res.OK() || len(fields) < 7 || fields[5] == "" {
		return fmt.Errorf("%w: could not determine home directory of %q", ErrPrecheck, run.User)
	}
	run.Home = fields[5]

	s.log.Info("User %s exists (UID %s, home %s)", run.User, run.UID, run.Home)
	return nil
}

func (s *Sequencer) configureSystem(ctx context.Context, run *Run) error {
	return s.materialize(ctx, run, s.manifest.Files.System)
}

func (s *Sequencer) configureSession(ctx context.Context, run *Run) error {
	return s.materialize(ctx, run, s.manifest.Files.Session)
}

func (s *Sequencer) materialize(ctx context.Context, run *Run, files []config.File) error {
	vars := run.vars(s.manifest.Vars)
	for _, f := range files {
		var mode os.FileMode
		if f.Mode != "" {
			m, err := config.ParseMode(f.Mode)
			if err != nil {
				return err
			}
			mode = m
		}
		out, err := s.materializer.Install(ctx, materializer.File{
			Name:     f.Name,
			Template: f.Template,
			Vars:     vars,
			Dest:     f.Dest,
			Owner:    f.Owner,
			Mode:     mode,
			ChownDir: f.ChownDir,
			Within:   run.Home,
		})
		if err != nil {
			return err
		}
		fs := state.FileState{SHA256: out.SHA256, Owner: out.Owner}
		if out.Mode != 0 {
			fs.Mode = fmt.Sprintf("%04o", uint32(out.Mode.Perm()))
		}
		s.record.Files[out.Dest] = fs
	}
	return nil
}

func (s *Sequencer) installGUI(ctx context.Context, run *Run) error {
	if err := s.installer.UpdateIndex(ctx); err != nil {
		s.log.Warn("Package index refresh failed, installing from the current index: %v", err)
	}
	return s.installGroup(ctx, run, "gui", s.manifest.Packages.GUI, s.manifest.PostInstall.GUI)
}

func (s *Sequencer) installTools(ctx context.Context, run *Run) error {
	return s.installGroup(ctx, run, "tools", s.manifest.Packages.Tools, s.manifest.PostInstall.Tools)
}

func (s *Sequencer) installGroup(ctx context.Context, run *Run, group string, pkgs []string, post []config.Command) error {
	run.addReport(group, s.installer.InstallAll(ctx, pkgs))

	cmds, err := s.commands(run, group, post)
	if err != nil {
		return err
	}
	return s.installer.RunCommands(ctx, cmds)
}

func (s *Sequencer) detectHardware(ctx context.Context, run *Run) error {
	vendor, err := s.detector.Detect(ctx)
	run.Vendor = vendor
	return err
}

func (s *Sequencer) installBranch(ctx context.Context, run *Run, vendor hardware.Vendor) error {
	b := s.manifest.Branch(vendor)
	setup, err := s.commands(run, string(vendor)+".setup", b.Setup)
	if err != nil {
		return err
	}
	post, err := s.commands(run, string(vendor)+".post", b.Post)
	if err != nil {
		return err
	}

	report, err := s.installer.InstallBranch(ctx, installer.Branch{
		Vendor:      vendor,
		Description: b.Description,
		Setup:       setup,
		Packages:    b.Packages,
		Post:        post,
	})
	run.addReport("drivers", report)
	return err
}

// commands renders manifest commands into elevated runner commands.
func (s *Sequencer) commands(run *Run, group string, cmds []config.Command) ([]runner.Command, error) {
	vars := run.vars(s.manifest.Vars)
	out := make([]runner.Command, 0, len(cmds))
	for i, c := range cmds {
		argv := make([]string, len(c.Run))
		for j, arg := range c.Run {
			rendered, err := materializer.Render(fmt.Sprintf("%s[%d]", group, i), arg, vars)
			if err != nil {
				return nil, err
			}
			argv[j] = rendered
		}
		stdin, err := materializer.Render(fmt.Sprintf("%s[%d].stdin", group, i), c.Stdin, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, runner.Command{
			Name:    argv[0],
			Args:    argv[1:],
			Elevate: true,
			Check:   c.Check,
			Stdin:   stdin,
		})
	}
	return out, nil
}
