/*
Package dokq documents the dokq module.

dokq is a delayed, retryable work queue backed by a shared document store.
Producers and consumers in any number of processes share one store; a consumer
claims the next eligible item under a time-bounded lease and either
acknowledges it or lets the lease lapse for redelivery, until the item's
attempt budget runs out.

The importable packages are queue (core API plus the memory, SQLite and
Postgres store backends) and worker (consumer pool). The dokq command offers
operational access to a queue:

	go install github.com/nuetzliches/dokq/cmd/dokq@latest
*/
package dokq
