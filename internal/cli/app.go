package cli

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/smartmove/internal/audit"
	"github.com/roach88/smartmove/internal/config"
	"github.com/roach88/smartmove/internal/fleet"
	"github.com/roach88/smartmove/internal/metrics"
	"github.com/roach88/smartmove/internal/store"
	"github.com/roach88/smartmove/internal/zones"
)

// app is a fully wired controller and the resources it owns.
type app struct {
	store *store.Store
	audit *audit.Log
	zones *zones.Service
	ctrl  *fleet.Controller
}

// openApp opens the store, audit log, and zone set named by cfg and builds
// a controller over them. A non-nil reg receives the Prometheus collectors.
//
// The audit log has a single writer. Only one process may hold it open.
func openApp(cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	log, err := audit.Open(cfg.Storage.AuditPath)
	if err != nil {
		st.Close()
		if audit.IsIntegrityError(err) {
			return nil, WrapExitError(ExitIntegrity, "audit log integrity check failed", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to open audit log", err)
	}

	zoneSvc, err := zones.Load(cfg.Zones.Path)
	if err != nil {
		log.Close()
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load restricted zones", err)
	}

	ctrlOpts := []fleet.Option{fleet.WithOptions(cfg.FleetOptions())}
	if reg != nil {
		ctrlOpts = append(ctrlOpts, fleet.WithMetrics(metrics.NewProm(reg)))
	}

	return &app{
		store: st,
		audit: log,
		zones: zoneSvc,
		ctrl:  fleet.New(st.Vehicles(), st.Payments(), log, zoneSvc, ctrlOpts...),
	}, nil
}

// Close releases the audit log and the store.
func (a *app) Close() error {
	var errs []error
	if err := a.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
