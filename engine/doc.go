// Package engine wires all chrono subsystems together. It creates the
// extension registry, job registry, middleware chain, lock manager,
// admission controller, timer scheduler, recurrence planner, and scan
// loop, and provides the public scheduling operations.
//
// This package exists to break the import cycle: the root chrono
// package defines Entity and Config (imported by job, lock, worker,
// etc.) and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
//
// Typical usage:
//
//	s, _ := chrono.New(chrono.WithStore(st), chrono.WithLogger(logger))
//	eng, _ := engine.Build(s)
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//	engine.Now(ctx, eng, "send-email", EmailPayload{To: "a@b.c"})
//	eng.Start(ctx)
package engine
