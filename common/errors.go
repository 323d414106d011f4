/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

// Parsing errors.
var (
	// ErrMalformedSerialization is returned when a combined format string does not follow
	// the JWT ('~' Disclosure)* '~' [KB-JWT] grammar.
	ErrMalformedSerialization = errors.New("malformed combined format serialization")

	// ErrMalformedDisclosure is returned when a disclosure string is not a base64url-encoded
	// JSON array of the form [salt, value] or [salt, name, value].
	ErrMalformedDisclosure = errors.New("malformed disclosure")
)

// Digest errors.
var (
	// ErrUnsupportedHashAlgorithm is returned when the _sd_alg value is not recognized.
	ErrUnsupportedHashAlgorithm = errors.New("unsupported hash algorithm")

	// ErrDisclosureDigestMismatch is returned when disclosure digests collide or a digest
	// is referenced from more than one place.
	ErrDisclosureDigestMismatch = errors.New("disclosure digest mismatch")

	// ErrUnusedDisclosure is returned when a supplied disclosure is not referenced by any
	// digest in the claim tree.
	ErrUnusedDisclosure = errors.New("disclosure not referenced by any digest")

	// ErrMissingRequiredDigest is returned when a digest required by the protocol
	// (e.g. sd_hash in a key binding JWT) is absent.
	ErrMissingRequiredDigest = errors.New("missing required digest")
)

// Signature errors.
var (
	// ErrInvalidJWT is returned when a JWT is structurally invalid or its signature
	// cannot be verified.
	ErrInvalidJWT = errors.New("invalid JWT")
)

// Key binding errors.
var (
	// ErrKeyBindingPolicyViolation is returned when the presence or absence of the key
	// binding JWT does not satisfy the verifier policy.
	ErrKeyBindingPolicyViolation = errors.New("key binding policy violation")

	// ErrSDHashMismatch is returned when the sd_hash claim of the key binding JWT does not
	// match the digest of the presented content.
	ErrSDHashMismatch = errors.New("sd_hash does not match presentation")

	// ErrInvalidKeyBindingSignature is returned when the key binding JWT signature is invalid.
	ErrInvalidKeyBindingSignature = errors.New("invalid key binding JWT")
)

// Envelope errors.
var (
	// ErrAudienceMismatch is returned when the envelope audience differs from the expected one.
	ErrAudienceMismatch = errors.New("envelope audience mismatch")

	// ErrStaleIssuedAt is returned when the envelope issued-at claim is outside the accepted window.
	ErrStaleIssuedAt = errors.New("envelope issued-at outside of accepted window")
)

// Key source errors.
var (
	// ErrUnsupportedIssuerFormat is returned at key resolution time when iss is neither an
	// HTTPS URL nor a DID.
	ErrUnsupportedIssuerFormat = errors.New("unsupported issuer format")

	// ErrAmbiguousKey is returned when no kid was given and the issuer key set contains
	// more than one key.
	ErrAmbiguousKey = errors.New("ambiguous issuer key")

	// ErrKeyNotFound is returned when no issuer key matching the selection criteria exists.
	ErrKeyNotFound = errors.New("issuer key not found")

	// ErrNetworkFailure is returned when fetching issuer keys fails or is cancelled.
	ErrNetworkFailure = errors.New("network failure")
)

// Issuance errors.
var (
	// ErrReservedClaimName is returned when _sd, _sd_alg or ... is used as a literal claim name.
	ErrReservedClaimName = errors.New("reserved claim name")

	// ErrSigningFailed is returned when the injected signer fails.
	ErrSigningFailed = errors.New("signing failed")
)
