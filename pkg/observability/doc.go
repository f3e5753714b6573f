/*
Package observability turns interpreter lifecycle hooks into Prometheus
metrics and structured log records.

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks().Merge(observability.LogHooks(logger))
	engine, _ := guardrail.New("rails/", guardrail.WithLifecycleHooks(hooks))
*/
package observability
