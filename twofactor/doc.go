// Package twofactor verifies TOTP codes (RFC 6238) against the secret stored
// on a user record and manages enrolment of that secret.
//
// The password service calls [Service.Authenticate] during login when the user
// has a secret set. QR rendering of the provisioning URI is left to callers.
package twofactor
