package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/smartmove/internal/audit"
)

// VerifyResult is the JSON payload of the verify command.
type VerifyResult struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [audit-log]",
		Short: "Verify the audit log hash chain",
		Long: `Recompute every checksum in the audit log and check that each entry
links to its predecessor.

The log path defaults to the configured storage.audit_path.

Exit codes:
  0 - Chain intact
  2 - Log missing or unreadable
  3 - Chain broken`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
}

func runVerify(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	path, err := auditPath(opts, args)
	if err != nil {
		return err
	}
	f.VerboseLog("Verifying %s", path)

	n, err := audit.VerifyFile(path)
	switch {
	case audit.IsIntegrityError(err):
		return f.Fail(ExitIntegrity, ErrCodeIntegrity, "audit log integrity check failed", err)
	case errors.Is(err, fs.ErrNotExist):
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("audit log not found: %s", path), nil)
	case err != nil:
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read audit log", err)
	}

	return f.Success(
		VerifyResult{Path: path, Valid: true, Entries: n},
		fmt.Sprintf("✓ audit log intact: %d entries (%s)\n", n, path),
	)
}

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Tail  int
	Event string
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit [audit-log]",
		Short: "Print audit log entries",
		Long: `Print audit log entries in append order. The chain is verified first;
a broken log is reported instead of printed.

Example:
  smartmove audit
  smartmove audit --event THEFT_ALARM
  smartmove audit --tail 20 --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Tail, "tail", 0, "only print the last N matching entries")
	cmd.Flags().StringVar(&opts.Event, "event", "", "only print entries with this event name")

	return cmd
}

func runAudit(opts *AuditOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	path, err := auditPath(opts.RootOptions, args)
	if err != nil {
		return err
	}

	entries, err := audit.ReadFile(path)
	switch {
	case audit.IsIntegrityError(err):
		return f.Fail(ExitIntegrity, ErrCodeIntegrity, "audit log integrity check failed", err)
	case errors.Is(err, fs.ErrNotExist):
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("audit log not found: %s", path), nil)
	case err != nil:
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read audit log", err)
	}

	entries = filterEntries(entries, opts.Event, opts.Tail)
	if entries == nil {
		entries = []audit.Entry{}
	}
	return f.Success(entries, formatEntries(entries))
}

// auditPath returns the explicit argument or the configured log path.
func auditPath(opts *RootOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	return cfg.Storage.AuditPath, nil
}

// filterEntries keeps entries named event (all when empty), then the last
// tail of those (all when tail <= 0).
func filterEntries(entries []audit.Entry, event string, tail int) []audit.Entry {
	if event != "" {
		var kept []audit.Entry
		for _, e := range entries {
			if strings.EqualFold(e.Event, event) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return entries
}

func formatEntries(entries []audit.Entry) string {
	if len(entries) == 0 {
		return "No audit entries.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "%6d  %s  %-22s %s\n", e.ID, ts, e.Event, e.Details)
	}
	return b.String()
}
