// Package resilience provides reliability and fault tolerance patterns for the
// routing core. It includes per-provider circuit breakers and retry logic with
// exponential backoff used by the background job scheduler.
//
// The package supports:
//   - Circuit breakers isolating failing upstream providers
//   - Administrative forced cooldowns independent of organic failures
//   - Retry backoff computation for bounded job retries
//
// Usage Example:
//
//	breakers := circuitbreaker.NewSet(circuitbreaker.DefaultConfig)
//	b := breakers.For("claude")
//	result, err := b.Execute(func() (interface{}, error) {
//	    return callProvider()
//	})
package resilience
