// Package cache models the browser CacheStorage API on local storage: a set
// of named stores, each mapping a (method, URL) request key to a fully
// buffered response. Stores are created on first open, listed in creation
// order and removed only as a whole, which is what version-based eviction
// during activation relies on.
//
// Two backends share the same semantics. The filesystem backend keeps one
// directory per store and writes bodies and metadata through temp file +
// rename. The leveldb backend keeps everything in a single database with
// gob-encoded values and deletes a store with one batch.
package cache
