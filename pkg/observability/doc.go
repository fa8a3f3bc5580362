/*
Package observability turns engine lifecycle hooks into metrics and logs.

Both Metrics.Hooks and LogHooks return a domain.LifecycleHooks value; combine
them with domain.CombineHooks and pass the result to journey.WithLifecycleHooks.
*/
package observability
