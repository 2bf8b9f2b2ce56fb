// Package harness runs scripted fleet scenarios against a real controller.
//
// A scenario seeds vehicles, drives a sequence of controller operations,
// and asserts on the resulting audit trail and final vehicle records. Each
// run gets a fresh in-memory SQLite store, a fresh audit log in a temporary
// directory, a deterministic clock, and sequential payment ids, so the
// audit trail is identical across runs and can be compared against golden
// files.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: rental_rome
//	description: "Reserve, start and end a rental in Rome"
//	zones: zones.cue            # optional, relative to the scenario file
//	audit_geofence: false       # optional
//	setup:                      # optional, written straight to the store
//	  - id: v9
//	    type: MOPED
//	    state: MAINTENANCE
//	flow:
//	  - op: register
//	    vehicle: v1
//	    type: E_SCOOTER
//	    city: LONDON
//	  - op: reserve
//	    vehicle: v1
//	    city: ROME
//	    expect:
//	      state: RESERVED
//	  - op: start
//	    vehicle: v1
//	    city: ROME
//	  - op: telemetry
//	    vehicle: v1
//	    telemetry: { battery: 3, temperature: 20.5 }
//	  - op: end
//	    vehicle: v1
//	    expect:
//	      error: INVALID_STATE
//	assertions:
//	  - type: trail_order
//	    events: [RENTAL_STARTED, EMERGENCY_TERMINATION, TELEMETRY]
//	  - type: final_state
//	    vehicle: v1
//	    state: MAINTENANCE
//
// # Assertion Types
//
//   - trail_contains: an entry with the event (and details substring) exists
//   - trail_order: the events appear in the given relative order
//   - trail_count: the event appears exactly N times
//   - final_state: the stored vehicle has the expected fields
//   - payments: the ledger holds N payments (and optionally their total)
//
// Telemetry steps are applied synchronously through HandleTelemetry so the
// trail does not depend on consumer scheduling.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/rental_rome.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
