/*
Package observability provides lifecycle hooks for monitoring the Basthon kernel.

Metrics exports Prometheus counters and histograms for evaluations, package
loads and display events. LoggingHooks writes the same lifecycle steps to a
structured logger. Both return domain.LifecycleHooks and can be merged with
domain.Combine.
*/
package observability
