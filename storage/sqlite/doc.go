// Package sqlite provides the durable response store and the durable TTL
// tier backed by one SQLite database.
//
// Everything stored here is derived data that can be refetched from the
// network, so a lost or deleted database only costs a cold cache.
package sqlite
