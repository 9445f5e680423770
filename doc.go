// Package identity implements the token lifecycle engine of an identity
// backend: credential verification, access/refresh token issuance with
// rotation-on-use, revocation, and single-use proof tokens for out-of-band
// flows such as email verification and password reset.
//
// The package deliberately excludes HTTP routing, request DTO validation,
// and outbound mail delivery. Those concerns are modeled as injected
// collaborators (Mailer, RoleSource, the store interfaces) so the core can
// carry the security invariants on its own:
//
//   - refresh handles are opaque, high entropy, and stored hash-only;
//   - a refresh handle is valid for exactly one successful use;
//   - proof tokens are typed, time-boxed, and consumed atomically;
//   - a password reset revokes every outstanding session for the user.
//
// Persistence is bun-backed. Every state transition that must not double
// apply (rotation, proof-token consumption) is a conditional single-row
// UPDATE whose affected-row count decides the outcome.
package identity
