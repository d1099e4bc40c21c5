/*
Package resilience provides the circuit breaker placed in front of the
remote capability service.

# Overview

A dead or wedged service must not turn every capability acquisition into a
full call timeout. The breaker counts transport failures only: a remote
status such as "not supported" is a successful call as far as the breaker
is concerned. When it opens, negotiate calls fail immediately and the
acquisition reports the generic failure status.

# Usage

	breaker := resilience.New("negotiate", resilience.Settings{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}, logger, metrics)

	result, err := breaker.Execute(func() (interface{}, error) {
		return client.Negotiate(ctx, req)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
