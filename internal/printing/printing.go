// Package printing hands finished documents to the OS print subsystem.
// Failures here are outside the pipelines' error taxonomy: the document is
// already committed and the operator can print it by hand.
package printing

import (
	"os/exec"
	"time"

	"example.com/storesync/config"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Spooler dispatches documents through a configured print command
// (lp/lpr or an equivalent wrapper).
type Spooler struct {
	command string
	printer string
}

// NewSpooler creates a spooler, or nil when print dispatch is disabled.
func NewSpooler(cfg config.PrinterConfig) *Spooler {
	if !cfg.Enabled {
		return nil
	}
	command := cfg.Command
	if command == "" {
		command = "lp"
	}
	return &Spooler{command: command, printer: cfg.Name}
}

// Dispatch sends the document at path to the spooler.
func (s *Spooler) Dispatch(path string) error {
	args := []string{}
	if s.printer != "" {
		args = append(args, "-d", s.printer)
	}
	args = append(args, path)

	cmd := exec.Command(s.command, args...)
	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "print command failed: %s", string(out))
	}

	log.Info().Str("document", path).Dur("took", time.Since(start)).Msg("Document sent to printer")
	return nil
}
