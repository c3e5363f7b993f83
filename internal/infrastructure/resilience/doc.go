/*
Package resilience provides the circuit breaker that guards outbound tracker
calls made by the host executor.

Only failures the settings classify as such count toward tripping: a
tracker answering 404 or 401 is healthy, a refused connection or a 503 is
not.

# Usage

	breaker := resilience.New("tracker", resilience.Settings{
		MaxProbes: 1,
		Cooldown:  30 * time.Second,
		IsFailure: func(err error) bool { return err != nil && !isClientError(err) },
	})

	resp, err := resilience.Call(breaker, func() (*resty.Response, error) {
		return req.Execute(method, url)
	})

# States

	Closed --[ShouldTrip]-> Open --[Cooldown]-> Half-Open --[MaxProbes successes]-> Closed
	                                              |
	                                          [failure]
	                                              v
	                                             Open
*/
package resilience
