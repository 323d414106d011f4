/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	disclosureElementsAmountForArrayDigest = 2
	disclosureElementsAmountForSDDigest    = 3

	saltPosition             = 0
	sdDigestNamePosition     = 1
	sdDigestValuePosition    = 2
	arrayDigestValuePosition = 1
)

// DisclosureClaimType disclosure claim type.
type DisclosureClaimType int

const (
	// DisclosureClaimTypeUnknown default type for disclosure claim.
	DisclosureClaimTypeUnknown = DisclosureClaimType(0)
	// DisclosureClaimTypePlainText disclosure claim with a scalar or array value.
	DisclosureClaimTypePlainText = DisclosureClaimType(1)
	// DisclosureClaimTypeObject disclosure claim with an object value, possibly carrying nested digests.
	DisclosureClaimTypeObject = DisclosureClaimType(2)
	// DisclosureClaimTypeArrayElement disclosure claim hiding a single array element.
	DisclosureClaimTypeArrayElement = DisclosureClaimType(3)
)

// DisclosureClaim defines a decoded disclosure.
type DisclosureClaim struct {
	Digest     string
	Disclosure string
	Salt       string
	Name       string
	Value      interface{}
	Type       DisclosureClaimType

	// Elements is the decoded disclosure array length (2 for array elements, 3 for object claims).
	Elements int

	// IsValueParsed reports whether nested digests inside Value have been resolved.
	IsValueParsed bool
}

// GetDisclosureClaims de-codes disclosures and returns them in input order.
func GetDisclosureClaims(disclosures []string, hash crypto.Hash) ([]*DisclosureClaim, error) {
	claims := make([]*DisclosureClaim, 0, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := GetDisclosureClaim(disclosure, hash)
		if err != nil {
			return nil, err
		}

		claims = append(claims, claim)
	}

	return claims, nil
}

// GetDisclosureClaimsMap de-codes disclosures into a map keyed by disclosure digest
// calculated using the provided hash. Two distinct disclosures hashing to the same digest
// fail with ErrDisclosureDigestMismatch.
func GetDisclosureClaimsMap(disclosures []string, hash crypto.Hash) (map[string]*DisclosureClaim, error) {
	claims := make(map[string]*DisclosureClaim, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := GetDisclosureClaim(disclosure, hash)
		if err != nil {
			return nil, err
		}

		if _, ok := claims[claim.Digest]; ok {
			return nil, fmt.Errorf("%w: duplicate digest '%s'", ErrDisclosureDigestMismatch, claim.Digest)
		}

		claims[claim.Digest] = claim
	}

	return claims, nil
}

// GetDisclosureClaim de-codes a single disclosure and calculates its digest.
func GetDisclosureClaim(disclosure string, hash crypto.Hash) (*DisclosureClaim, error) {
	disclosureArr, err := decodeDisclosureArray(disclosure)
	if err != nil {
		return nil, err
	}

	salt := disclosureArr[saltPosition].(string)

	digest, err := GetHash(hash, disclosure)
	if err != nil {
		return nil, fmt.Errorf("get disclosure hash: %w", err)
	}

	claim := &DisclosureClaim{
		Digest:     digest,
		Disclosure: disclosure,
		Salt:       salt,
		Elements:   len(disclosureArr),
	}

	switch len(disclosureArr) {
	case disclosureElementsAmountForArrayDigest:
		claim.Value = disclosureArr[arrayDigestValuePosition]
		claim.Type = DisclosureClaimTypeArrayElement
	case disclosureElementsAmountForSDDigest:
		claim.Name = disclosureArr[sdDigestNamePosition].(string)
		claim.Value = disclosureArr[sdDigestValuePosition]

		switch disclosureArr[sdDigestValuePosition].(type) {
		case map[string]interface{}:
			claim.Type = DisclosureClaimTypeObject
		default:
			claim.Type = DisclosureClaimTypePlainText
		}
	}

	return claim, nil
}

// ValidateDisclosure checks that a disclosure string is a base64url-encoded JSON array
// of the form [salt, value] or [salt, name, value].
func ValidateDisclosure(disclosure string) error {
	_, err := decodeDisclosureArray(disclosure)

	return err
}

func decodeDisclosureArray(disclosure string) ([]interface{}, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode disclosure: %s", ErrMalformedDisclosure, err.Error())
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal disclosure array: %s", ErrMalformedDisclosure, err.Error())
	}

	if len(disclosureArr) < disclosureElementsAmountForArrayDigest ||
		len(disclosureArr) > disclosureElementsAmountForSDDigest {
		return nil, fmt.Errorf("%w: disclosure array size[%d] must be %d or %d", ErrMalformedDisclosure,
			len(disclosureArr), disclosureElementsAmountForArrayDigest, disclosureElementsAmountForSDDigest)
	}

	if _, ok := disclosureArr[saltPosition].(string); !ok {
		return nil, fmt.Errorf("%w: disclosure salt type[%T] must be string", ErrMalformedDisclosure,
			disclosureArr[saltPosition])
	}

	if len(disclosureArr) == disclosureElementsAmountForSDDigest {
		if _, ok := disclosureArr[sdDigestNamePosition].(string); !ok {
			return nil, fmt.Errorf("%w: disclosure name type[%T] must be string", ErrMalformedDisclosure,
				disclosureArr[sdDigestNamePosition])
		}
	}

	return disclosureArr, nil
}
