// Package storage provides the fast key-value cache used by the
// authorization cache.
//
// Two implementations satisfy Cache:
//
//   - RedisCache, backed by go-redis, shared across replicas
//   - MemoryCache, an in-process expiring LRU for single-node deployments and tests
//
// NewCache picks one from Config: a non-empty RedisURL selects Redis.
//
// Durable state (users, SAML identities) lives in PostgreSQL; see
// subpackage postgres for connection setup and schema migrations.
package storage
