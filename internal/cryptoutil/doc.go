// Package cryptoutil holds the small cryptographic helpers the service needs:
//   - KMS envelope encryption of oauth tokens stored in the database
//   - random url-safe tokens for password reset links
//   - SHA-256 hashing and constant-time comparison of hex digests
package cryptoutil
