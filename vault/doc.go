// Package vault implements the identity document vault.
//
// Uploaded document sides are sealed with envelope encryption before
// anything touches persistent storage: ciphertext goes to the blob
// backends, the nonce and content ID go to the archive row, and the
// plaintext exists only for the duration of the call. Reviews are the
// sole decrypt path, gated on reviewer capability and a per-member
// exclusive lock, and every vault operation writes an audit entry
// whether it succeeded or not.
package vault
