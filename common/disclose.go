/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"fmt"

	utils "github.com/trustbloc/sdjwt-go/util/maphelpers"
)

// GetDisclosedClaims recreates claims from the disclosed document and the supplied disclosures:
// the inverse of the issuance transform. Digests with a matching disclosure are replaced by the
// recreated claim; digests without a match are dropped silently (the claim stays hidden).
// The _sd arrays and the _sd_alg claim are removed from the output.
//
// For a payload that passed VerifyDisclosuresInSDJWT this never fails; errors are only possible
// for structurally invalid payloads (duplicate digest placement, non-string _sd entries).
func GetDisclosedClaims(disclosureClaims []*DisclosureClaim, claims map[string]interface{}) (map[string]interface{}, error) { // nolint:lll
	disclosuresByDigest := make(map[string]*DisclosureClaim, len(disclosureClaims))

	for _, claim := range disclosureClaims {
		if _, ok := disclosuresByDigest[claim.Digest]; ok {
			return nil, fmt.Errorf("%w: duplicate digest '%s'", ErrDisclosureDigestMismatch, claim.Digest)
		}

		disclosuresByDigest[claim.Digest] = claim
	}

	recData := &recursiveData{
		disclosures:          disclosuresByDigest,
		cleanupDigestsClaims: true,
	}

	output, err := discloseClaimValue(utils.CopyMap(claims), recData)
	if err != nil {
		return nil, fmt.Errorf("failed to process disclosed claims: %w", err)
	}

	outputMap, ok := output.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("disclosed claims are not an object")
	}

	return outputMap, nil
}

// GetDisclosedClaimsFromDisclosures recreates claims from the disclosed document and raw
// disclosure strings, hashing them with the algorithm recorded in the claims.
func GetDisclosedClaimsFromDisclosures(disclosures []string, claims map[string]interface{}) (map[string]interface{}, error) { // nolint:lll
	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return nil, err
	}

	return getDisclosedClaims(disclosures, claims, cryptoHash)
}

func getDisclosedClaims(disclosures []string, claims map[string]interface{}, hash crypto.Hash) (map[string]interface{}, error) { // nolint:lll
	disclosureClaims, err := GetDisclosureClaims(disclosures, hash)
	if err != nil {
		return nil, err
	}

	return GetDisclosedClaims(disclosureClaims, claims)
}
