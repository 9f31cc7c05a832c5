// Package cryptoutils implements the envelope cipher protecting
// identity document archives.
//
// A single 256-bit content key is derived by cascading HKDF-SHA256 over
// three independently held secrets in fixed order (the global system
// key, the per-user key, and the application-wide pepper), and the
// payload is sealed with AES-256-GCM, providing confidentiality and
// tamper detection through one authentication tag.
//
// All functions are pure cryptographic primitives with no storage or
// logging side effects; orchestration lives in the vault package.
package cryptoutils
