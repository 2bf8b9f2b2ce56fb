package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/fleet"
	"github.com/roach88/smartmove/internal/store"
	"github.com/roach88/smartmove/internal/testutil"
	"github.com/roach88/smartmove/internal/zones"
)

// PaymentIDPrefix prefixes the sequential payment ids used by every run.
const PaymentIDPrefix = "pay"

// Harness is the scenario execution engine.
// It runs scenarios with a deterministic clock and payment ids.
type Harness struct {
	store  *store.Store
	audit  *audit.Log
	ctrl   *fleet.Controller
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with its own audit log.
// Deterministic helpers ensure reproducible trails.
//
// Execution flow:
// 1. Create in-memory store and temporary audit log
// 2. Load restricted zones, if any
// 3. Seed setup vehicles
// 4. Execute flow steps with expect validation
// 5. Verify the audit chain and evaluate assertions
//
// An error is returned only when the run itself cannot be set up; step
// and assertion failures are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	dir, err := os.MkdirTemp("", "smartmove-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	defer os.RemoveAll(dir)

	clock := testutil.NewDeterministicClock()
	auditPath := filepath.Join(dir, "audit-log.jsonl")
	log, err := audit.Open(auditPath, audit.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer log.Close()

	zoneSvc := zones.NewService(nil)
	if scenario.Zones != "" {
		zoneSvc, err = zones.Load(scenario.Zones)
		if err != nil {
			return nil, fmt.Errorf("failed to load zones: %w", err)
		}
	}

	opts := fleet.DefaultOptions()
	opts.AuditGeofence = scenario.AuditGeofence

	h := &Harness{
		store: st,
		audit: log,
		ctrl: fleet.New(st.Vehicles(), st.Payments(), log, zoneSvc,
			fleet.WithOptions(opts),
			fleet.WithIDGenerator(testutil.NewSequentialIDs(PaymentIDPrefix)),
			fleet.WithClock(clock.Now),
		),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.executeFlow(ctx, scenario.Flow, result)

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	if _, err := audit.VerifyFile(auditPath); err != nil {
		result.AddError(fmt.Sprintf("audit chain: %v", err))
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup writes seed vehicles straight to the store.
func (h *Harness) executeSetup(ctx context.Context, setup []VehicleSpec) error {
	for i, spec := range setup {
		if err := h.store.WriteVehicle(ctx, spec.Vehicle()); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		h.logger.Info("setup vehicle seeded", "step", i, "vehicle_id", spec.ID)
	}
	return nil
}

// executeFlow runs every step in order and validates expect clauses.
// A failed step is recorded and the flow continues.
func (h *Harness) executeFlow(ctx context.Context, flow []Step, result *Result) {
	for i, step := range flow {
		err := h.execute(ctx, step)

		outcome := StepOutcome{Op: step.Op, Vehicle: step.Vehicle}
		if err != nil {
			outcome.Error = string(fleet.KindOf(err))
			if outcome.Error == "" {
				outcome.Error = "UNKNOWN"
			}
		}
		result.Steps = append(result.Steps, outcome)

		wantErr := ""
		if step.Expect != nil {
			wantErr = step.Expect.Error
		}
		if outcome.Error != wantErr {
			result.AddError(fmt.Sprintf("flow[%d] %s %s: expected error %q, got %q (%v)",
				i, step.Op, step.Vehicle, wantErr, outcome.Error, err))
		}

		if step.Expect != nil && step.Expect.State != "" {
			v, found, err := h.store.ReadVehicle(ctx, step.Vehicle)
			switch {
			case err != nil:
				result.AddError(fmt.Sprintf("flow[%d]: read vehicle: %v", i, err))
			case !found:
				result.AddError(fmt.Sprintf("flow[%d]: vehicle %s not found", i, step.Vehicle))
			case string(v.State) != step.Expect.State:
				result.AddError(fmt.Sprintf("flow[%d] %s %s: expected state %s, got %s",
					i, step.Op, step.Vehicle, step.Expect.State, v.State))
			}
		}

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"vehicle_id", step.Vehicle,
			"error_kind", outcome.Error,
		)
	}
}

// execute dispatches one step to the controller.
func (h *Harness) execute(ctx context.Context, step Step) error {
	city := domain.City(step.City)

	switch step.Op {
	case OpRegister:
		_, err := h.ctrl.RegisterVehicle(ctx, VehicleSpec{
			ID:    step.Vehicle,
			Type:  step.Type,
			State: step.State,
			City:  step.City,
		}.Vehicle())
		return err
	case OpReserve:
		return h.ctrl.ReserveVehicle(ctx, step.Vehicle, city)
	case OpStart:
		return h.ctrl.StartRental(ctx, step.Vehicle, city)
	case OpEnd:
		_, err := h.ctrl.EndRental(ctx, step.Vehicle)
		return err
	case OpChangeState:
		return h.ctrl.ChangeState(ctx, step.Vehicle, domain.State(step.State), city, step.Reason)
	case OpTelemetry:
		return h.ctrl.HandleTelemetry(ctx, step.Telemetry.Telemetry(step.Vehicle))
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// collect copies the audit trail and final store content into result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	entries, err := h.audit.Entries()
	if err != nil {
		return fmt.Errorf("failed to read audit trail: %w", err)
	}
	result.addTrail(entries)

	vehicles, err := h.store.ReadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vehicles: %w", err)
	}
	for _, v := range vehicles {
		result.Vehicles[v.ID] = v
	}

	result.Payments, err = h.store.ReadPayments(ctx)
	if err != nil {
		return fmt.Errorf("failed to read payments: %w", err)
	}
	return nil
}
