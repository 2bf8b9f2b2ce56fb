package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/domain"
)

func scooter(id string, state domain.State, city domain.City) domain.Vehicle {
	return domain.Vehicle{ID: id, Type: domain.VehicleEScooter, State: state, City: city}
}

func TestRegisterVehicle_DefaultsToAvailable(t *testing.T) {
	f := newFixture(t, noZones)
	ctx := context.Background()

	got, err := f.ctrl.RegisterVehicle(ctx, domain.Vehicle{ID: "v1", Type: domain.VehicleEScooter})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAvailable, got.State)
	assert.Equal(t, domain.StateAvailable, f.store.get(t, "v1").State)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, EventVehicleRegistered, entries[0].Event)
	assert.Equal(t, "vehicleId=v1, type=E_SCOOTER", entries[0].Details)
}

func TestRegisterVehicle_KeepsGivenState(t *testing.T) {
	f := newFixture(t, noZones)

	got, err := f.ctrl.RegisterVehicle(context.Background(), scooter("v1", domain.StateMaintenance, domain.CityRome))
	require.NoError(t, err)
	assert.Equal(t, domain.StateMaintenance, got.State)
}

func TestRegisterVehicle_RejectsBlankID(t *testing.T) {
	f := newFixture(t, noZones)

	for _, id := range []string{"", "   "} {
		_, err := f.ctrl.RegisterVehicle(context.Background(), domain.Vehicle{ID: id, Type: domain.VehicleMoped})
		require.Error(t, err)
		assert.True(t, IsInvalidArgument(err))
	}
	assert.Empty(t, f.entries(t))
	assert.Zero(t, f.store.saves)
}

func TestRegisterVehicle_RejectsUnknownState(t *testing.T) {
	f := newFixture(t, noZones)

	_, err := f.ctrl.RegisterVehicle(context.Background(), domain.Vehicle{ID: "v1", State: "PARKED"})
	assert.True(t, IsInvalidArgument(err))
}

func TestRegisterVehicle_SaveFailureRemovesNewRecord(t *testing.T) {
	f := newFixture(t, noZones)
	f.store.failNextSaves(1)

	_, err := f.ctrl.RegisterVehicle(context.Background(), scooter("v1", "", domain.CityRome))
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.ErrorIs(t, err, errDiskFull)

	_, found, err := f.ctrl.GetVehicle(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, f.entries(t))
}

func TestRegisterVehicle_AuditFailureRestoresPrevious(t *testing.T) {
	f := newFixture(t, noZones)
	prev := scooter("v1", domain.StateInUse, domain.CityLondon)
	f.seed(prev)
	f.ctrl.audit = &failingAudit{AuditLog: f.log, events: map[string]bool{EventVehicleRegistered: true}}

	_, err := f.ctrl.RegisterVehicle(context.Background(), scooter("v1", domain.StateAvailable, domain.CityRome))
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Equal(t, prev, f.store.get(t, "v1"))
}

func TestReserveVehicle_TransitionsAndAudits(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateAvailable, domain.CityLondon))

	require.NoError(t, f.ctrl.ReserveVehicle(context.Background(), "v1", domain.CityRome))

	v := f.store.get(t, "v1")
	assert.Equal(t, domain.StateReserved, v.State)
	assert.Equal(t, domain.CityRome, v.City)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, EventStateChange, entries[0].Event)
	assert.Equal(t, "vehicleId=v1, AVAILABLE->RESERVED, reason=reserve", entries[0].Details)
}

func TestReserveVehicle_Errors(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("busy", domain.StateInUse, domain.CityRome))
	ctx := context.Background()

	err := f.ctrl.ReserveVehicle(ctx, "", domain.CityRome)
	assert.True(t, IsInvalidArgument(err), "blank id")

	err = f.ctrl.ReserveVehicle(ctx, "busy", "")
	assert.True(t, IsInvalidArgument(err), "missing city")

	err = f.ctrl.ReserveVehicle(ctx, "ghost", domain.CityRome)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsStateError(err))

	err = f.ctrl.ReserveVehicle(ctx, "busy", domain.CityRome)
	assert.True(t, IsKind(err, KindInvalidState))
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	assert.Empty(t, f.entries(t), "rejected operations write no audit entries")
	assert.Equal(t, domain.StateInUse, f.store.get(t, "busy").State)
}

func TestChangeState_RollbackOnSaveFailure(t *testing.T) {
	f := newFixture(t, noZones)
	snapshot := scooter("v1", domain.StateAvailable, domain.CityLondon)
	f.seed(snapshot)
	f.store.failNextSaves(1)

	err := f.ctrl.ReserveVehicle(context.Background(), "v1", domain.CityRome)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	assert.Equal(t, snapshot, f.store.get(t, "v1"))
	assert.Empty(t, f.entries(t))
}

func TestChangeState_RollbackOnAuditFailure(t *testing.T) {
	f := newFixture(t, noZones)
	snapshot := scooter("v1", domain.StateAvailable, domain.CityLondon)
	f.seed(snapshot)
	f.ctrl.audit = &failingAudit{AuditLog: f.log, events: map[string]bool{EventStateChange: true}}

	err := f.ctrl.ReserveVehicle(context.Background(), "v1", domain.CityRome)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Equal(t, snapshot, f.store.get(t, "v1"))
}

func TestChangeState_RollbackFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateAvailable, domain.CityLondon))
	f.store.failNextSaves(2) // the write and the restore

	err := f.ctrl.ReserveVehicle(context.Background(), "v1", domain.CityRome)
	require.Error(t, err)
	assert.True(t, IsPersistence(err), "original failure is reported, not the rollback failure")
}

func TestChangeState_ExplicitTransitions(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateAvailable, domain.CityMilan))
	ctx := context.Background()

	require.NoError(t, f.ctrl.ChangeState(ctx, "v1", domain.StateRelocating, "", "rebalance"))
	v := f.store.get(t, "v1")
	assert.Equal(t, domain.StateRelocating, v.State)
	assert.Equal(t, domain.CityMilan, v.City, "empty city keeps current")

	require.NoError(t, f.ctrl.ChangeState(ctx, "v1", domain.StateAvailable, domain.CityRome, ""))
	assert.Equal(t, domain.CityRome, f.store.get(t, "v1").City)

	err := f.ctrl.ChangeState(ctx, "v1", "FLYING", "", "")
	assert.True(t, IsInvalidArgument(err))

	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "vehicleId=v1, AVAILABLE->RELOCATING, reason=rebalance", entries[0].Details)
	assert.Equal(t, "vehicleId=v1, RELOCATING->AVAILABLE, reason=manual", entries[1].Details)
}

func TestStartRental_FromReserved(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateReserved, domain.CityLondon))

	require.NoError(t, f.ctrl.StartRental(context.Background(), "v1", domain.CityRome))

	v := f.store.get(t, "v1")
	assert.Equal(t, domain.StateInUse, v.State)
	assert.Equal(t, domain.CityRome, v.City)
	assert.True(t, v.RentalActive)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, EventRentalStarted, entries[0].Event)
	assert.Equal(t, "vehicleId=v1, city=ROME", entries[0].Details)
}

func TestStartRental_InvalidTransition(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateAvailable, domain.CityRome))

	err := f.ctrl.StartRental(context.Background(), "v1", domain.CityRome)
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, domain.StateAvailable, f.store.get(t, "v1").State)
}

func TestStartRental_MilanMopedHelmetRule(t *testing.T) {
	moped := func(helmet *bool) domain.Vehicle {
		v := domain.Vehicle{ID: "m1", Type: domain.VehicleMoped, State: domain.StateReserved, City: domain.CityMilan}
		if helmet != nil {
			v = v.WithTelemetry(domain.Telemetry{VehicleID: "m1", HelmetPresent: *helmet, BatteryPercent: 90})
		}
		return v
	}
	yes, no := true, false

	tests := []struct {
		name    string
		vehicle domain.Vehicle
		wantErr bool
	}{
		{"no telemetry", moped(nil), true},
		{"helmet absent", moped(&no), true},
		{"helmet present", moped(&yes), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, noZones)
			f.seed(tt.vehicle)

			err := f.ctrl.StartRental(context.Background(), "m1", domain.CityMilan)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindRuleViolation))
				assert.True(t, IsStateError(err))
				assert.Equal(t, tt.vehicle, f.store.get(t, "m1"), "no mutation on rule violation")
				assert.Empty(t, f.entries(t))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.StateInUse, f.store.get(t, "m1").State)
		})
	}
}

func TestStartRental_HelmetRuleOnlyForMilanMopeds(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(
		domain.Vehicle{ID: "m-rome", Type: domain.VehicleMoped, State: domain.StateReserved},
		domain.Vehicle{ID: "s-milan", Type: domain.VehicleEScooter, State: domain.StateReserved},
	)
	ctx := context.Background()

	assert.NoError(t, f.ctrl.StartRental(ctx, "m-rome", domain.CityRome))
	assert.NoError(t, f.ctrl.StartRental(ctx, "s-milan", domain.CityMilan))
}

func TestEndRental_FareByCity(t *testing.T) {
	tests := []struct {
		city       domain.City
		congestion float64
		total      float64
	}{
		{domain.CityLondon, 5.0, 15.0},
		{domain.CityRome, 0.0, 10.0},
		{domain.CityMilan, 0.0, 10.0},
	}
	for _, tt := range tests {
		t.Run(string(tt.city), func(t *testing.T) {
			f := newFixture(t, noZones)
			f.seed(scooter("v1", domain.StateInUse, tt.city).WithRentalActive(true))

			p, err := f.ctrl.EndRental(context.Background(), "v1")
			require.NoError(t, err)
			assert.Equal(t, "pay-1", p.ID)
			assert.Equal(t, 10.0, p.BaseFare)
			assert.Equal(t, tt.congestion, p.CongestionCharge)
			assert.Equal(t, tt.total, p.Total)
			assert.Equal(t, tt.city, p.City)

			v := f.store.get(t, "v1")
			assert.Equal(t, domain.StateAvailable, v.State)
			assert.False(t, v.RentalActive)
			assert.Len(t, f.ledger.payments, 1)
		})
	}
}

func TestEndRental_AuditDetails(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v2", domain.StateInUse, domain.CityLondon).WithRentalActive(true))

	_, err := f.ctrl.EndRental(context.Background(), "v2")
	require.NoError(t, err)

	entries := f.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, EventPayment, entries[0].Event)
	assert.Equal(t, "paymentId=pay-1, vehicleId=v2, city=LONDON, base=10.0, congestion=5.0, total=15.0", entries[0].Details)
	assert.Equal(t, EventRentalEnded, entries[1].Event)
	assert.Equal(t, "vehicleId=v2, city=LONDON", entries[1].Details)
}

func TestEndRental_RequiresInUse(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateReserved, domain.CityRome))

	_, err := f.ctrl.EndRental(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidState))
	assert.Contains(t, err.Error(), "must be IN_USE")
	assert.Empty(t, f.ledger.payments)
	assert.Empty(t, f.entries(t))
}

func TestEndRental_PaymentFailureLeavesVehicle(t *testing.T) {
	f := newFixture(t, noZones)
	snapshot := scooter("v1", domain.StateInUse, domain.CityRome).WithRentalActive(true)
	f.seed(snapshot)
	f.ledger.fail = true

	_, err := f.ctrl.EndRental(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	assert.Equal(t, snapshot, f.store.get(t, "v1"))
	assert.Empty(t, f.entries(t))
}

func TestEndRental_VehicleFailureKeepsPayment(t *testing.T) {
	f := newFixture(t, noZones)
	snapshot := scooter("v1", domain.StateInUse, domain.CityLondon).WithRentalActive(true)
	f.seed(snapshot)
	f.store.failNextSaves(1)

	_, err := f.ctrl.EndRental(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, IsPersistence(err))

	assert.Equal(t, snapshot, f.store.get(t, "v1"), "vehicle restored")
	require.Len(t, f.ledger.payments, 1, "payment is not retracted")
	assert.Equal(t, []string{EventPayment}, f.events(t))
}

func TestGetVehicle_NotFoundIsNotError(t *testing.T) {
	f := newFixture(t, noZones)

	_, found, err := f.ctrl.GetVehicle(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListVehiclesAndPayments(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("b", domain.StateAvailable, ""), scooter("a", domain.StateInUse, domain.CityRome))
	ctx := context.Background()

	_, err := f.ctrl.EndRental(ctx, "a")
	require.NoError(t, err)

	vs, err := f.ctrl.ListVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "a", vs[0].ID)

	ps, err := f.ctrl.Payments(ctx)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestController_LockWaitCancelled(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateAvailable, domain.CityRome))

	release, err := f.ctrl.locks.acquire(context.Background(), "v1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = f.ctrl.ReserveVehicle(ctx, "v1", domain.CityRome)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCanceled))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.StateAvailable, f.store.get(t, "v1").State)
}

func TestController_ConcurrentStartOnlyOneWins(t *testing.T) {
	f := newFixture(t, noZones)
	f.seed(scooter("v1", domain.StateReserved, domain.CityRome))

	const attempts = 16
	var wins, stateErrs atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.ctrl.StartRental(context.Background(), "v1", domain.CityRome)
			switch {
			case err == nil:
				wins.Add(1)
			case IsStateError(err):
				stateErrs.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(attempts-1), stateErrs.Load())
	assert.Equal(t, []string{EventRentalStarted}, f.events(t))
}

func TestController_ParallelVehiclesKeepAuditChain(t *testing.T) {
	f := newFixture(t, noZones)
	const n = 20
	for i := 0; i < n; i++ {
		f.seed(scooter(fmt.Sprintf("v%02d", i), domain.StateAvailable, domain.CityLondon))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.ctrl.ReserveVehicle(context.Background(), id, domain.CityRome))
			assert.NoError(t, f.ctrl.StartRental(context.Background(), id, domain.CityRome))
			_, err := f.ctrl.EndRental(context.Background(), id)
			assert.NoError(t, err)
		}(fmt.Sprintf("v%02d", i))
	}
	wg.Wait()

	count, err := audit.VerifyFile(f.logPath)
	require.NoError(t, err)
	assert.Equal(t, n*4, count)
	assert.Len(t, f.ledger.payments, n)
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "10.0", formatDecimal(10))
	assert.Equal(t, "0.0", formatDecimal(0))
	assert.Equal(t, "61.25", formatDecimal(61.25))
	assert.Equal(t, "-3.5", formatDecimal(-3.5))
}
