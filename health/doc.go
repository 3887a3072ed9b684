// Package health tracks the availability of registry endpoints and selects
// the one requests should go to.
//
// A Checker probes a single endpoint. HTTPChecker issues a lightweight GET
// and reports healthy iff the response status is 2xx.
//
// Monitor owns one checker per configured endpoint (primary first, then
// backups in order). A cron-scheduled background job probes all of them in
// parallel and writes the results into a lock-protected snapshot. Request
// paths only ever read that snapshot:
//
//	mon, err := health.NewMonitor(health.MonitorConfig{
//	    Primary:  "https://registry.example.org/fhir",
//	    Backups:  []string{"https://dr.registry.example.org/fhir"},
//	    Interval: time.Minute,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := mon.Start(); err != nil {
//	    return err
//	}
//	defer mon.Stop()
//
//	target := mon.Active()
//
// # Selection
//
// Active returns the primary when it is healthy, otherwise the first healthy
// backup, otherwise the primary anyway. Endpoints start out healthy, so a
// fresh monitor serves the primary until a probe says otherwise. Every change
// of the active endpoint is reported through MonitorConfig.OnFailover.
package health
