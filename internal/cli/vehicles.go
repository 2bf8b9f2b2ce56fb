package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/fleet"
	"github.com/roach88/smartmove/internal/store"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	ID    string
	Type  string
	City  string
	State string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a vehicle offline",
		Long: `Register a vehicle directly against the database and audit log.

The audit log has a single writer: do not run this while serve is
running against the same files. Use POST /vehicles instead.

Example:
  smartmove register --type E_SCOOTER --city ROME
  smartmove register --id moped-7 --type MOPED --state MAINTENANCE`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "vehicle id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "vehicle type: E_SCOOTER, MOPED, E_BIKE, CAR (required)")
	cmd.Flags().StringVar(&opts.City, "city", "", "home city: LONDON, ROME, MILAN")
	cmd.Flags().StringVar(&opts.State, "state", "", "initial state (default AVAILABLE)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runRegister(opts *RegisterOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	v, err := opts.vehicle()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid vehicle", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log, opts.Verbose, cmd.ErrOrStderr())

	a, err := openApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.ctrl.RegisterVehicle(cmd.Context(), v)
	if err != nil {
		return f.Fail(exitCodeFor(err), ErrCodeRejected, "register failed", err)
	}
	return f.Success(stored, fmt.Sprintf("✓ registered %s (%s, %s)\n", stored.ID, stored.Type, stored.State))
}

func (o *RegisterOptions) vehicle() (domain.Vehicle, error) {
	vt, err := domain.ParseVehicleType(o.Type)
	if err != nil {
		return domain.Vehicle{}, err
	}
	v := domain.Vehicle{ID: strings.TrimSpace(o.ID), Type: vt}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if o.City != "" {
		if v.City, err = domain.ParseCity(o.City); err != nil {
			return domain.Vehicle{}, err
		}
	}
	if o.State != "" {
		if v.State, err = domain.ParseState(o.State); err != nil {
			return domain.Vehicle{}, err
		}
	}
	return v, nil
}

// exitCodeFor maps controller failures to exit codes.
func exitCodeFor(err error) int {
	if fleet.IsKind(err, fleet.KindPersistence) {
		return ExitCommandError
	}
	return ExitFailure
}

// NewVehiclesCommand creates the vehicles command.
func NewVehiclesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vehicles [id]",
		Short: "Show stored vehicles",
		Long: `List every stored vehicle, or show one when an id is given.

Reads the database only; safe to run alongside serve.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVehicles(rootOpts, args, cmd)
		},
	}
}

func runVehicles(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		v, found, err := st.ReadVehicle(cmd.Context(), args[0])
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read vehicle", err)
		}
		if !found {
			return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("vehicle not found: %s", args[0]), nil)
		}
		return f.Success(v, formatVehicles([]domain.Vehicle{v}))
	}

	vs, err := st.ReadVehicles(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read vehicles", err)
	}
	if vs == nil {
		vs = []domain.Vehicle{}
	}
	return f.Success(vs, formatVehicles(vs))
}

// NewPaymentsCommand creates the payments command.
func NewPaymentsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "payments",
		Short: "Show the payment ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayments(rootOpts, cmd)
		},
	}
}

func runPayments(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ps, err := st.ReadPayments(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStorage, "failed to read payments", err)
	}
	if ps == nil {
		ps = []domain.Payment{}
	}
	return f.Success(ps, formatPayments(ps))
}

func openStore(opts *RootOptions) (*store.Store, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func formatVehicles(vs []domain.Vehicle) string {
	if len(vs) == 0 {
		return "No vehicles.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-10s %-15s %-7s %s\n", "ID", "TYPE", "STATE", "CITY", "RENTAL")
	for _, v := range vs {
		city := string(v.City)
		if city == "" {
			city = "-"
		}
		fmt.Fprintf(&b, "%-24s %-10s %-15s %-7s %t\n", v.ID, v.Type, v.State, city, v.RentalActive)
	}
	return b.String()
}

func formatPayments(ps []domain.Payment) string {
	if len(ps) == 0 {
		return "No payments.\n"
	}
	var b strings.Builder
	var total float64
	for _, p := range ps {
		fmt.Fprintf(&b, "%s  %-24s %-7s base=%.2f congestion=%.2f total=%.2f\n",
			p.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), p.VehicleID, p.City, p.BaseFare, p.CongestionCharge, p.Total)
		total += p.Total
	}
	fmt.Fprintf(&b, "%d payment(s), %.2f collected\n", len(ps), total)
	return b.String()
}
