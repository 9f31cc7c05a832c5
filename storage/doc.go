// Package storage provides content-addressed blob backends for sealed
// identity document sides.
//
// Blobs are identified by the SHA-256 hash of their content, which the
// backends re-verify on fetch. Only ciphertext ever reaches a backend:
// the vault package seals every document side before storing it, so a
// compromised bucket or disk yields nothing without the three envelope
// secrets.
//
// Backends are created from location URIs by StorageBackendFactory:
//
//	file:///var/lib/membership/archives
//	s3://ACCESS:SECRET@bucket/prefix?region=eu-central-1
//
// Several backends can be combined into a MultiStorageBackend, which
// stores to all available members and fetches from the first that has
// the content, giving redundancy without a coordination layer.
package storage
