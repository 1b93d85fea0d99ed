// Package cascade coordinates circuit breakers across many downstream
// dependencies and stops localized failures from spreading through the
// platform.
//
// # Dependency Managers
//
// Each downstream service is wrapped in a DependencyManager that owns its
// circuit breaker, fallback strategy, and isolation flag.
//
//	dm := cascade.NewDependencyManager(cascade.DependencyConfig{
//		Name:     "payments",
//		Priority: cascade.PriorityHigh,
//		Strategy: cascade.StrategyCachedResponse,
//		Breaker: breaker.Config{
//			FailureThreshold: 5,
//			RecoveryTimeout:  30 * time.Second,
//		},
//	}, fallback.CachedResponse(store, "payments:last"), bus)
//
//	result, err := dm.Execute(ctx, chargeCard)
//
// # Cascade Prevention
//
// The System tracks every registered dependency, computes aggregate health,
// and reacts to cascade patterns: it preemptively fails over calls to broken
// dependencies, isolates repeat offenders, and activates emergency load
// shedding when too many dependencies fail at once.
//
//	sys := cascade.NewSystem(cascade.Config{}, bus)
//	sys.Start(ctx)
//	defer sys.Stop()
//
//	sys.RegisterDependency(paymentsConfig, paymentsFallback)
//	result, err := sys.Execute(ctx, "payments", chargeCard)
//
// # Retry
//
// A Retrier can be attached per dependency; every attempt passes through the
// dependency's circuit breaker, and breaker rejections stop the loop early.
//
//	cfg.Retry = cascade.NewRetrier(cascade.DefaultRetryConfig())
//
// All types are safe for concurrent use.
package cascade
