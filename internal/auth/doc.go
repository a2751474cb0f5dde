// Package auth issues and validates API access tokens.
//
// Tokens are HS256 JWTs signed with the instance secret. Validation is
// signature plus expiry only; there is no token store, so revocation
// means rotating the secret. Long-lived tokens exist for headless
// clients that cannot refresh.
package auth
