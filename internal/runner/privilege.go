package runner

import (
	"fmt"
	"os"
)

// Privilege is the capability to run elevated commands. It is obtained once
// at start-up through AcquirePrivilege and handed to New.
type Privilege struct {
	wrapper []string
}

// AcquirePrivilege returns a Privilege when the effective UID is 0.
// wrapper is the escalation prefix for elevated commands and defaults to
// "sudo".
func AcquirePrivilege(wrapper ...string) (*Privilege, error) {
	return acquire(os.Geteuid, wrapper)
}

func acquire(euid func() int, wrapper []string) (*Privilege, error) {
	if uid := euid(); uid != 0 {
		return nil, fmt.Errorf("%w: running as uid %d, re-run with sudo", ErrNotPrivileged, uid)
	}
	if len(wrapper) == 0 {
		wrapper = []string{"sudo"}
	}
	return &Privilege{wrapper: append([]string(nil), wrapper...)}, nil
}

// wrap prefixes argv with the escalation wrapper.
func (p *Privilege) wrap(argv []string) []string {
	out := make([]string, 0, len(p.wrapper)+len(argv))
	out = append(out, p.wrapper...)
	return append(out, argv...)
}
