// Package pulse is a client-side telemetry and resilience agent for web front ends.
//
// pulse keeps a visit session alive across page loads, reports page views and a
// periodic heartbeat to a collector, and captures uncaught failures for reliable
// delivery. It never lets its own failures reach the host application.
//
// # Core Components
//
//   - SessionStore: sliding 30-minute session identity persisted in a Storage
//   - DetectDevice: device class, browser and OS from the user agent
//   - NavigationSource: path transitions, by polling or from a router hook
//   - HeartbeatMonitor: 60-second liveness ping with a circuit breaker
//   - ErrorCapture: global failure hooks, Recover and Go helpers, LogError
//   - DeliveryQueue: sequential FIFO delivery of error records with retry
//   - UnloadSender: single-attempt, unload-safe send of the final page view
//   - Tracker: the service object wiring all of the above
//
// Transports live in transports/ (httpjson, console, multi, noop) and durable
// session storage in stores/ (sqlite, redis). Fingerprint groups error records
// in the developer log.
//
// # Quick Start
//
//	tracker := pulse.New(env,
//	    pulse.WithConfig(cfg),
//	    pulse.WithTransport(httpjson.New(cfg.Endpoint)),
//	    pulse.WithStorage(store),
//	)
//	if err := tracker.Start(ctx); err != nil { ... }
//	defer tracker.Close()
//	defer tracker.Errors().Recover(ctx)
//
// # Design Principles
//
//   - Telemetry never aborts the host: every public method swallows its own panics
//   - Development sessions are never sent: Start is a no-op unless Config.Production
//   - Page views and events are fire-and-forget; only error records are retried
package pulse
