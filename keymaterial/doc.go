// Package keymaterial resolves the three secrets feeding the envelope
// cipher: the global system key, the per-user derived key, and the
// application-wide pepper.
//
// Two providers are included:
//
// # SimpleProvider
//
// Derives everything deterministically from a master seed. Per-user
// keys use Argon2id with the user ID bound into the salt, ensuring
// consistent keys across service restarts. Suitable for development
// and single-operator deployments.
//
// # VaultProvider
//
// Resolves the system key, pepper, and user-key seed from HashiCorp
// Vault's KV v2 engine, keeping long-lived secrets out of the service's
// own configuration and storage.
//
// Resolution is a scoped acquisition: providers return fresh copies,
// and callers must Zero the material on every exit path so secrets
// never outlive the operation that needed them.
//
// For operator recovery, the system key can be split into Shamir shares
// (SplitSystemKey / CombineSystemKey); a threshold of operators must
// cooperate to reconstruct it.
package keymaterial
