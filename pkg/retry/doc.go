// Package retry decides whether a failed attempt is worth repeating.
//
// A Policy inspects one attempt's Outcome and either abstains or asks for a
// retry after a delay. Policies live in a Registry under a scope key ("",
// "service" or "service.Operation"). For each attempt the request pipeline
// invokes every applicable policy in registration order and keeps the first
// decision that retries:
//
//	reg := retry.NewRegistry()
//	reg.Register("", retry.MaxAttempts(5, retry.ConnectionErrors(retry.DefaultExponentialBackoff())))
//	reg.Register("dynamodb", retry.ErrorCodes([]string{"ProvisionedThroughputExceededException"},
//		&retry.ExponentialBackoff{BaseDelay: 50 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2}))
//
// Delays come from a Backoff (exponential, linear or constant, with
// optional jitter). ErrorTypeBackoff picks a gentler strategy for
// throttling than for network or server faults. Wait sleeps for a delay
// unless the context ends first.
package retry
