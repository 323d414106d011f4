/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sdjwt implements creating JSON Web Token (JWT) documents that support selective disclosure of JWT claims.
//
// In an SD-JWT, claims can be hidden, but cryptographically protected against undetected modification.
//
// When issuing the SD-JWT to the Holder, the Issuer also sends the cleartext counterparts of all hidden claims,
// the so-called Disclosures, separate from the SD-JWT itself.
//
// The Holder decides which claims to disclose to a Verifier and forwards the respective Disclosures
// together with the SD-JWT to the Verifier.
//
// The Verifier has to verify that all disclosed claim values were part of the original, Issuer-signed SD-JWT.
// The Verifier will not, however, learn any claim values not disclosed in the Disclosures.
//
// This implementation supports:
//
// - selectively disclosable claims in flat data structures as well as more complex, nested data structures,
// either keeping the structure visible (structured disclosure) or additionally hiding the claim's own name
// behind one more digest (recursive disclosure)
//
// - selectively disclosable array elements
//
// - combining selectively disclosable claims with clear-text claims that are always disclosed
//
// - decoy digests that obscure the true number of hidden claims
//
// - an optional Key Binding mechanism, binding a presentation to key material controlled by the Holder,
// either as a Key Binding JWT appended to the presentation or as an enveloping JWT that carries
// the presentation as a claim
//
// - resolution of issuer verification keys from issuer metadata (HTTPS issuers) or from DID documents
// (DID issuers).
package sdjwt
