// Package helper provides test doubles for entitystore: an in-memory Backend and FeedStore,
// and spies for logging, metrics and tracing.
package helper
