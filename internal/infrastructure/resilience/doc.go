// Package resilience provides a circuit breaker for outbound calls.
//
// The download client wraps remote fetches in a Breaker so a flapping
// or dead origin stops consuming retries quickly. States follow the
// standard pattern:
//
//	closed -> open       after ReadyToTrip fires on a failure
//	open -> half-open    after Timeout elapses
//	half-open -> closed  after MaxRequests consecutive probe successes
//	half-open -> open    on any probe failure
//
// Counts reset each Interval while closed, so old failures age out.
package resilience
