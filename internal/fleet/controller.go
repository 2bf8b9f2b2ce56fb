package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/domain"
	"github.com/roach88/smartmove/internal/metrics"
)

// Audit event names written by the controller.
const (
	EventVehicleRegistered    = "VEHICLE_REGISTERED"
	EventStateChange          = "STATE_CHANGE"
	EventRentalStarted        = "RENTAL_STARTED"
	EventRentalEnded          = "RENTAL_ENDED"
	EventPayment              = "PAYMENT"
	EventTelemetry            = "TELEMETRY"
	EventTheftAlarm           = "THEFT_ALARM"
	EventFaultDetected        = "FAULT_DETECTED"
	EventOverheatLock         = "OVERHEAT_LOCK"
	EventEmergencyTermination = "EMERGENCY_TERMINATION"
	EventZoneViolation        = "ZONE_VIOLATION"
)

// Default fares in currency units.
const (
	DefaultBaseFare         = 10.0
	DefaultCongestionCharge = 5.0
)

// VehicleStore is the durable vehicle registry.
type VehicleStore interface {
	FindByID(ctx context.Context, id string) (domain.Vehicle, bool, error)
	FindAll(ctx context.Context) ([]domain.Vehicle, error)
	Save(ctx context.Context, v domain.Vehicle) error
	DeleteByID(ctx context.Context, id string) error
}

// PaymentLedger is the append-only payment store.
type PaymentLedger interface {
	Save(ctx context.Context, p domain.Payment) error
	FindAll(ctx context.Context) ([]domain.Payment, error)
}

// AuditLog is the hash-chained event ledger. *audit.Log implements it.
type AuditLog interface {
	Append(event, details string) (audit.Entry, error)
}

// ZoneQuery answers geofence lookups. *zones.Service implements it.
type ZoneQuery interface {
	IsRestricted(city domain.City, t domain.VehicleType, lat, lon float64) bool
}

// IDGenerator produces payment ids.
type IDGenerator interface {
	Generate() string
}

// Options holds tunables for a Controller.
type Options struct {
	// BaseFare is charged for every completed rental.
	BaseFare float64

	// CongestionCharge is added for rentals ending in London.
	CongestionCharge float64

	// AuditGeofence writes a ZONE_VIOLATION entry when a restricted zone
	// forces an emergency lock. Off by default, in which case the lock is
	// recorded only by the TELEMETRY entry that follows it.
	AuditGeofence bool
}

// DefaultOptions returns the standard fare table with geofence auditing off.
func DefaultOptions() Options {
	return Options{
		BaseFare:         DefaultBaseFare,
		CongestionCharge: DefaultCongestionCharge,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithOptions replaces the controller tunables.
func WithOptions(o Options) Option {
	return func(c *Controller) { c.opts = o }
}

// WithMetrics sets the instrumentation sink. Defaults to metrics.Nop.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = r }
}

// WithIDGenerator sets the payment id source. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Controller) { c.ids = g }
}

// WithClock sets the payment timestamp source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the single entry point for every vehicle-affecting
// operation.
//
// Every mutation runs inside the target vehicle's lock and follows the
// same discipline: read, snapshot, validate, mutate a copy, persist, then
// audit. If the persist or the audit append fails, the snapshot is written
// back (best-effort) and a KindPersistence error is returned.
//
// Thread-safety: all methods are safe for concurrent use. Operations on
// the same vehicle are serialized; operations on different vehicles run
// in parallel. Telemetry is processed by the single Run goroutine.
type Controller struct {
	vehicles VehicleStore
	payments PaymentLedger
	audit    AuditLog
	zones    ZoneQuery

	locks *lockRegistry
	queue *telemetryQueue

	opts    Options
	metrics metrics.Recorder
	ids     IDGenerator
	now     func() time.Time
}

// New creates a controller over its collaborators. Call Run in a
// goroutine to start the telemetry consumer.
func New(vehicles VehicleStore, payments PaymentLedger, auditLog AuditLog, zoneQuery ZoneQuery, opts ...Option) *Controller {
	c := &Controller{
		vehicles: vehicles,
		payments: payments,
		audit:    auditLog,
		zones:    zoneQuery,
		locks:    newLockRegistry(),
		queue:    newTelemetryQueue(),
		opts:     DefaultOptions(),
		metrics:  metrics.Nop{},
		ids:      UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// auditEvent is one pending audit entry.
type auditEvent struct {
	name    string
	details string
}

// RegisterVehicle stores a new vehicle, or replaces an existing record
// with the same id. An unset state defaults to AVAILABLE. Returns the
// stored value.
func (c *Controller) RegisterVehicle(ctx context.Context, v domain.Vehicle) (_ domain.Vehicle, err error) {
	const op = "register"
	defer c.observe(op, time.Now(), &err)

	v.ID = strings.TrimSpace(v.ID)
	if v.ID == "" {
		return domain.Vehicle{}, invalidArgument(op, "", "vehicle id is required")
	}
	if v.State == "" {
		v.State = domain.StateAvailable
	}
	if !v.State.Valid() {
		return domain.Vehicle{}, invalidArgument(op, v.ID, fmt.Sprintf("unknown state %q", v.State))
	}

	release, err := c.lock(ctx, op, v.ID)
	if err != nil {
		return domain.Vehicle{}, err
	}
	defer release()

	prev, existed, err := c.vehicles.FindByID(ctx, v.ID)
	if err != nil {
		return domain.Vehicle{}, persistence(op, v.ID, fmt.Errorf("read vehicle: %w", err))
	}
	var snapshot *domain.Vehicle
	if existed {
		snapshot = &prev
	}

	if err := c.commit(ctx, op, snapshot, v, auditEvent{
		name:    EventVehicleRegistered,
		details: fmt.Sprintf("vehicleId=%s, type=%s", v.ID, v.Type),
	}); err != nil {
		return domain.Vehicle{}, err
	}

	slog.Info("vehicle registered", "vehicle_id", v.ID, "type", v.Type, "state", v.State)
	return v, nil
}

// ReserveVehicle moves an AVAILABLE vehicle to RESERVED in city.
func (c *Controller) ReserveVehicle(ctx context.Context, id string, city domain.City) error {
	if city == "" {
		return invalidArgument("reserve", id, "city is required")
	}
	return c.changeState(ctx, "reserve", id, domain.StateReserved, city, "reserve")
}

// ChangeState applies a validated lifecycle transition, e.g. releasing a
// vehicle from maintenance. An empty city keeps the current one. reason
// is recorded in the STATE_CHANGE entry.
func (c *Controller) ChangeState(ctx context.Context, id string, to domain.State, city domain.City, reason string) error {
	if !to.Valid() {
		return invalidArgument("change_state", id, fmt.Sprintf("unknown state %q", to))
	}
	if reason == "" {
		reason = "manual"
	}
	return c.changeState(ctx, "change_state", id, to, city, reason)
}

func (c *Controller) changeState(ctx context.Context, op, id string, to domain.State, city domain.City, reason string) (err error) {
	defer c.observe(op, time.Now(), &err)

	id = strings.TrimSpace(id)
	if id == "" {
		return invalidArgument(op, "", "vehicle id is required")
	}

	release, err := c.lock(ctx, op, id)
	if err != nil {
		return err
	}
	defer release()

	snapshot, err := c.load(ctx, op, id)
	if err != nil {
		return err
	}

	if err := domain.ValidateTransition(snapshot.State, to); err != nil {
		return invalidState(op, id, err)
	}

	next := snapshot.WithState(to)
	if city != "" {
		next = next.WithCity(city)
	}

	return c.commit(ctx, op, &snapshot, next, auditEvent{
		name:    EventStateChange,
		details: fmt.Sprintf("vehicleId=%s, %s->%s, reason=%s", id, snapshot.State, to, reason),
	})
}

// StartRental moves a RESERVED vehicle to IN_USE in city and marks the
// rental active. In Milan a moped only starts when its latest telemetry
// reports a helmet present.
func (c *Controller) StartRental(ctx context.Context, id string, city domain.City) (err error) {
	const op = "start"
	defer c.observe(op, time.Now(), &err)

	id = strings.TrimSpace(id)
	if id == "" {
		return invalidArgument(op, "", "vehicle id is required")
	}
	if city == "" {
		return invalidArgument(op, id, "city is required")
	}

	release, err := c.lock(ctx, op, id)
	if err != nil {
		return err
	}
	defer release()

	snapshot, err := c.load(ctx, op, id)
	if err != nil {
		return err
	}

	if err := domain.ValidateTransition(snapshot.State, domain.StateInUse); err != nil {
		return invalidState(op, id, err)
	}

	if city == domain.CityMilan && snapshot.Type == domain.VehicleMoped {
		if snapshot.Telemetry == nil || !snapshot.Telemetry.HelmetPresent {
			return ruleViolation(op, id, "helmet required for mopeds in Milan")
		}
	}

	next := snapshot.WithCity(city).WithState(domain.StateInUse).WithRentalActive(true)

	return c.commit(ctx, op, &snapshot, next, auditEvent{
		name:    EventRentalStarted,
		details: fmt.Sprintf("vehicleId=%s, city=%s", id, city),
	})
}

// EndRental settles the fare for an IN_USE vehicle and makes it
// AVAILABLE again.
//
// The payment is recorded and audited before the vehicle is touched. If
// the vehicle update then fails, the vehicle is restored but the payment
// stays in the ledger.
func (c *Controller) EndRental(ctx context.Context, id string) (_ domain.Payment, err error) {
	const op = "end"
	defer c.observe(op, time.Now(), &err)

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Payment{}, invalidArgument(op, "", "vehicle id is required")
	}

	release, err := c.lock(ctx, op, id)
	if err != nil {
		return domain.Payment{}, err
	}
	defer release()

	snapshot, err := c.load(ctx, op, id)
	if err != nil {
		return domain.Payment{}, err
	}

	if snapshot.State != domain.StateInUse {
		return domain.Payment{}, invalidState(op, id, fmt.Errorf("vehicle must be IN_USE to end rental, is %s", snapshot.State))
	}

	congestion := 0.0
	if snapshot.City == domain.CityLondon {
		congestion = c.opts.CongestionCharge
	}
	payment := domain.NewPayment(c.ids.Generate(), id, snapshot.City, c.opts.BaseFare, congestion, c.now())

	if err := c.payments.Save(ctx, payment); err != nil {
		return domain.Payment{}, persistence(op, id, fmt.Errorf("save payment: %w", err))
	}
	if err := c.appendAudit(EventPayment, fmt.Sprintf(
		"paymentId=%s, vehicleId=%s, city=%s, base=%s, congestion=%s, total=%s",
		payment.ID, id, payment.City,
		formatDecimal(payment.BaseFare), formatDecimal(payment.CongestionCharge), formatDecimal(payment.Total),
	)); err != nil {
		return domain.Payment{}, persistence(op, id, err)
	}

	next := snapshot.WithRentalActive(false).WithState(domain.StateAvailable)
	if err := c.commit(ctx, op, &snapshot, next, auditEvent{
		name:    EventRentalEnded,
		details: fmt.Sprintf("vehicleId=%s, city=%s", id, next.City),
	}); err != nil {
		slog.Warn("rental ended with payment recorded but vehicle not updated",
			"vehicle_id", id, "payment_id", payment.ID, "error", err)
		return domain.Payment{}, err
	}

	return payment, nil
}

// GetVehicle returns the stored vehicle. found is false for unknown ids;
// only storage failures are errors. No lock is taken.
func (c *Controller) GetVehicle(ctx context.Context, id string) (v domain.Vehicle, found bool, err error) {
	v, found, err = c.vehicles.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Vehicle{}, false, persistence("get", id, err)
	}
	return v, found, nil
}

// ListVehicles returns every stored vehicle.
func (c *Controller) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	vs, err := c.vehicles.FindAll(ctx)
	if err != nil {
		return nil, persistence("list", "", err)
	}
	return vs, nil
}

// Payments returns the payment ledger in insertion order.
func (c *Controller) Payments(ctx context.Context) ([]domain.Payment, error) {
	ps, err := c.payments.FindAll(ctx)
	if err != nil {
		return nil, persistence("payments", "", err)
	}
	return ps, nil
}

// lock acquires the vehicle lock, mapping context cancellation to an
// operation error.
func (c *Controller) lock(ctx context.Context, op, id string) (func(), error) {
	release, err := c.locks.acquire(ctx, id)
	if err != nil {
		return nil, &Error{Kind: KindCanceled, Op: op, VehicleID: id, Message: "lock wait abandoned", Err: err}
	}
	return release, nil
}

// load reads the vehicle for a mutating operation. Missing vehicles are
// state errors. Must be called with the vehicle lock held.
func (c *Controller) load(ctx context.Context, op, id string) (domain.Vehicle, error) {
	v, found, err := c.vehicles.FindByID(ctx, id)
	if err != nil {
		return domain.Vehicle{}, persistence(op, id, fmt.Errorf("read vehicle: %w", err))
	}
	if !found {
		return domain.Vehicle{}, notFound(op, id)
	}
	return v, nil
}

// commit persists next and appends events in order. On any failure the
// snapshot is restored: rewritten if it exists, or the record deleted if
// the vehicle did not exist before. Must be called with the lock held.
func (c *Controller) commit(ctx context.Context, op string, snapshot *domain.Vehicle, next domain.Vehicle, events ...auditEvent) error {
	if err := c.vehicles.Save(ctx, next); err != nil {
		c.rollback(ctx, op, snapshot, next.ID)
		return persistence(op, next.ID, fmt.Errorf("save vehicle: %w", err))
	}
	for _, ev := range events {
		if err := c.appendAudit(ev.name, ev.details); err != nil {
			c.rollback(ctx, op, snapshot, next.ID)
			return persistence(op, next.ID, err)
		}
	}
	return nil
}

// rollback restores the pre-operation record. Failures are logged and
// swallowed; the caller already holds the error that matters.
func (c *Controller) rollback(ctx context.Context, op string, snapshot *domain.Vehicle, id string) {
	// Restore even if the caller's context has been cancelled.
	ctx = context.WithoutCancel(ctx)

	var err error
	if snapshot != nil {
		err = c.vehicles.Save(ctx, *snapshot)
	} else {
		err = c.vehicles.DeleteByID(ctx, id)
	}
	c.metrics.RollbackAttempted(op, err)
	if err != nil {
		slog.Error("rollback failed", "op", op, "vehicle_id", id, "error", err)
		return
	}
	slog.Warn("rolled back vehicle after failed write", "op", op, "vehicle_id", id)
}

func (c *Controller) appendAudit(event, details string) error {
	if _, err := c.audit.Append(event, details); err != nil {
		return fmt.Errorf("audit %s: %w", event, err)
	}
	c.metrics.AuditAppended(event)
	return nil
}

func (c *Controller) observe(op string, start time.Time, err *error) {
	c.metrics.OperationCompleted(op, *err, time.Since(start))
	if *err != nil {
		slog.Debug("operation failed", "op", op, "error", *err)
	}
}

// formatDecimal renders a float with at least one fractional digit,
// so 10 prints as "10.0" and 61.25 as "61.25".
func formatDecimal(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
