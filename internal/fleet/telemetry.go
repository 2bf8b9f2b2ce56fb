package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/metrics"
)

// Safety thresholds.
const (
	OverheatThresholdC = 60.0
	LowBatteryPercent  = 5
)

// Rule names reported to metrics.
const (
	RuleTheft      = "theft"
	RuleFault      = "fault"
	RuleOverheat   = "overheat"
	RuleLowBattery = "low_battery"
	RuleGeofence   = "geofence"
)

// SendTelemetry queues a reading for the background consumer and returns
// immediately. Only a missing vehicle id is rejected. Readings sent after
// Shutdown are dropped.
func (c *Controller) SendTelemetry(t domain.Telemetry) error {
	_, err := c.QueueTelemetry(t)
	return err
}

// QueueTelemetry is SendTelemetry that also reports whether the reading
// was queued. It is false only once Shutdown has been called.
func (c *Controller) QueueTelemetry(t domain.Telemetry) (bool, error) {
	t.VehicleID = strings.TrimSpace(t.VehicleID)
	if t.VehicleID == "" {
		return false, invalidArgument("telemetry", "", "telemetry vehicle id is required")
	}

	if !c.queue.Enqueue(t) {
		c.metrics.TelemetryProcessed(metrics.OutcomeDropped)
		slog.Warn("telemetry dropped: controller shut down", "vehicle_id", t.VehicleID)
		return false, nil
	}
	c.metrics.QueueLength(c.queue.Len())
	return true, nil
}

// QueueLen returns the number of readings waiting to be processed.
func (c *Controller) QueueLen() int {
	return c.queue.Len()
}

// Run consumes queued telemetry until ctx is cancelled or Shutdown is
// called and the queue is drained. Readings are handled one at a time in
// enqueue order, across all vehicles.
//
// A failure on one reading is logged and the loop moves on. Cancelling
// ctx stops the loop before the next reading, leaving the backlog queued.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("telemetry consumer starting")

	for {
		if err := ctx.Err(); err != nil {
			return c.stopRun(err)
		}

		t, ok := c.queue.TryDequeue()
		if ok {
			c.metrics.QueueLength(c.queue.Len())
			if err := c.HandleTelemetry(ctx, t); err != nil {
				logTelemetryError(t, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return c.stopRun(ctx.Err())

		case <-c.queue.Wait():
			// A stale signal can arrive after its reading was already
			// taken; only a closed and empty queue ends the loop.
			if c.queue.Drained() {
				slog.Info("telemetry consumer stopping: queue closed")
				return nil
			}
		}
	}
}

func (c *Controller) stopRun(err error) error {
	slog.Info("telemetry consumer stopping: context cancelled", "pending", c.queue.Len())
	c.queue.Close()
	return err
}

// Shutdown stops accepting telemetry. Run returns once it has worked
// through what is already queued; cancel Run's context to stop sooner.
func (c *Controller) Shutdown() {
	c.queue.Close()
}

// HandleTelemetry applies one reading synchronously under the vehicle's
// lock. Readings for unknown vehicles are dropped without error.
//
// The reading replaces the stored telemetry and the safety rules are
// evaluated, in order, against one working copy:
//
//  1. theft: movement while no rental is active locks the vehicle
//  2. fault: sends the vehicle to maintenance unless already locked
//  3. overheat: above 60°C locks the vehicle and ends the rental
//  4. low battery: under 5% while IN_USE sends it to maintenance
//  5. geofence: a Rome e-scooter inside a restricted zone is locked
//
// Later rules see and may override the state set by earlier ones. The
// result is persisted once. Rule entries are then audited in firing
// order, followed by one TELEMETRY entry.
func (c *Controller) HandleTelemetry(ctx context.Context, t domain.Telemetry) (err error) {
	const op = "telemetry"
	defer c.observe(op, time.Now(), &err)

	id := strings.TrimSpace(t.VehicleID)
	if id == "" {
		c.metrics.TelemetryProcessed(metrics.OutcomeFailed)
		return invalidArgument(op, "", "telemetry vehicle id is required")
	}

	release, err := c.lock(ctx, op, id)
	if err != nil {
		c.metrics.TelemetryProcessed(metrics.OutcomeFailed)
		return err
	}
	defer release()

	snapshot, found, err := c.vehicles.FindByID(ctx, id)
	if err != nil {
		c.metrics.TelemetryProcessed(metrics.OutcomeFailed)
		return persistence(op, id, fmt.Errorf("read vehicle: %w", err))
	}
	if !found {
		c.metrics.TelemetryProcessed(metrics.OutcomeUnknownVehicle)
		slog.Debug("telemetry for unknown vehicle dropped", "vehicle_id", id)
		return nil
	}

	next, events := c.applyRules(snapshot.WithTelemetry(t), t)
	events = append(events, auditEvent{
		name:    EventTelemetry,
		details: fmt.Sprintf("vehicleId=%s, batt=%d, temp=%s", id, t.BatteryPercent, formatDecimal(t.TemperatureC)),
	})

	if err := c.commit(ctx, op, &snapshot, next, events...); err != nil {
		c.metrics.TelemetryProcessed(metrics.OutcomeFailed)
		return err
	}

	c.metrics.TelemetryProcessed(metrics.OutcomeApplied)
	if next.State != snapshot.State {
		slog.Info("telemetry changed vehicle state",
			"vehicle_id", id, "from", snapshot.State, "to", next.State)
	}
	return nil
}

// applyRules evaluates the safety rules against v in their fixed order
// and returns the resulting vehicle with the audit events of every rule
// that fired. It performs no I/O apart from the zone lookup.
func (c *Controller) applyRules(v domain.Vehicle, t domain.Telemetry) (domain.Vehicle, []auditEvent) {
	var events []auditEvent
	fire := func(rule, event, details string) {
		c.metrics.RuleTriggered(rule)
		slog.Warn("safety rule triggered", "rule", rule, "vehicle_id", v.ID, "state", v.State)
		if event != "" {
			events = append(events, auditEvent{name: event, details: details})
		}
	}

	if t.MovementDetected && !v.RentalActive {
		v = v.WithState(domain.StateEmergencyLock).WithRentalActive(false)
		fire(RuleTheft, EventTheftAlarm,
			fmt.Sprintf("vehicleId=%s, movementDetected=true, rentalActive=false", v.ID))
	}

	if t.Fault && v.State != domain.StateEmergencyLock {
		v = v.WithState(domain.StateMaintenance).WithRentalActive(false)
		fire(RuleFault, EventFaultDetected,
			fmt.Sprintf("vehicleId=%s, state->MAINTENANCE", v.ID))
	}

	if t.TemperatureC > OverheatThresholdC {
		v = v.WithState(domain.StateEmergencyLock).WithRentalActive(false)
		fire(RuleOverheat, EventOverheatLock,
			fmt.Sprintf("vehicleId=%s, temp=%s", v.ID, formatDecimal(t.TemperatureC)))
	}

	if t.BatteryPercent < LowBatteryPercent && v.State == domain.StateInUse {
		v = v.WithState(domain.StateMaintenance).WithRentalActive(false)
		fire(RuleLowBattery, EventEmergencyTermination,
			fmt.Sprintf("vehicleId=%s, reason=LOW_BATTERY, batt=%d", v.ID, t.BatteryPercent))
	}

	if v.City == domain.CityRome && v.Type == domain.VehicleEScooter && c.zones != nil &&
		c.zones.IsRestricted(domain.CityRome, v.Type, t.Latitude, t.Longitude) {
		v = v.WithState(domain.StateEmergencyLock)
		event := ""
		if c.opts.AuditGeofence {
			event = EventZoneViolation
		}
		fire(RuleGeofence, event,
			fmt.Sprintf("vehicleId=%s, lat=%s, lon=%s", v.ID, formatDecimal(t.Latitude), formatDecimal(t.Longitude)))
	}

	return v, events
}

// logTelemetryError logs a swallowed per-reading failure with enough
// context to replay it by hand.
func logTelemetryError(t domain.Telemetry, err error) {
	slog.Error("telemetry processing failed",
		"vehicle_id", t.VehicleID,
		"battery", t.BatteryPercent,
		"temperature_c", t.TemperatureC,
		"kind", KindOf(err),
		"error", err,
	)
}
