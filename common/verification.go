/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/exp/slices"

	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
	utils "github.com/trustbloc/sdjwt-go/util/maphelpers"
)

// VerifySigningAlg ensures that a signing algorithm was used that was deemed secure for the application.
// The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders jose.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return fmt.Errorf("%w: missing alg", ErrInvalidJWT)
	}

	if alg == afgjwt.AlgorithmNone {
		return fmt.Errorf("%w: alg value cannot be 'none'", ErrInvalidJWT)
	}

	if !slices.Contains(secureAlgs, alg) {
		return fmt.Errorf("%w: alg '%s' is not in the allowed list", ErrInvalidJWT, alg)
	}

	return nil
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims (if provided in the JWT).
func VerifyJWT(signedJWT *afgjwt.JSONWebToken, leeway time.Duration) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       utils.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyJWT. error: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyJWT decode. error: %w", err)
	}

	// Validate checks claims in a token against expected values.
	// It is validated using the expected.Time, or time.Now if not provided.
	expected := jwt.Expected{}

	err = claims.ValidateWithLeeway(expected, leeway)
	if err != nil {
		return fmt.Errorf("%w: invalid JWT time values: %s", ErrInvalidJWT, err.Error())
	}

	return nil
}

// VerifyTyp checks the typ JWT header parameter against an expected value.
func VerifyTyp(joseHeaders jose.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return fmt.Errorf("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ \"%s\"", typ)
	}

	return nil
}

// CheckForDuplicates returns an error when values contains duplicate entries.
func CheckForDuplicates(values []string) error {
	var duplicates []string

	valuesMap := make(map[string]bool)

	for _, val := range values {
		if _, ok := valuesMap[val]; !ok {
			valuesMap[val] = true
		} else {
			duplicates = append(duplicates, val)
		}
	}

	if len(duplicates) > 0 {
		return fmt.Errorf("duplicate values found %v", duplicates)
	}

	return nil
}

// VerifyDisclosuresInSDJWT checks for disclosure inclusion in SD-JWT: every digest appearing
// anywhere in the claim tree must match at most one supplied disclosure, and every supplied
// disclosure must be referenced by at least one digest. Unmatched digests are allowed (decoys);
// unmatched disclosures are not.
func VerifyDisclosuresInSDJWT(disclosures []string, signedJWT *afgjwt.JSONWebToken) error {
	claims := utils.CopyMap(signedJWT.Payload)

	// check that the _sd_alg claim is present
	// check that _sd_alg value is understood and the hash algorithm is deemed secure.
	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return err
	}

	parsedDisclosureClaims, err := GetDisclosureClaimsMap(disclosures, cryptoHash)
	if err != nil {
		return err
	}

	recData := &recursiveData{
		disclosures:          parsedDisclosureClaims,
		cleanupDigestsClaims: false,
	}

	_, err = discloseClaimValue(claims, recData)
	if err != nil {
		return err
	}

	// If the digest of a supplied disclosure cannot be found in the SD-JWT payload,
	// the Verifier MUST reject the presentation.
	for _, disclosure := range parsedDisclosureClaims {
		if !disclosure.IsValueParsed {
			return fmt.Errorf("%w: digest '%s'", ErrUnusedDisclosure, disclosure.Digest)
		}
	}

	return nil
}

func setDisclosureClaimValue(recData *recursiveData, disclosureClaim *DisclosureClaim) error {
	if disclosureClaim.IsValueParsed {
		return nil
	}

	// Mark before descending, so a self-referencing disclosure cannot recurse forever.
	disclosureClaim.IsValueParsed = true

	newValue, err := discloseClaimValue(disclosureClaim.Value, recData)
	if err != nil {
		return err
	}

	disclosureClaim.Value = newValue

	return nil
}

// discloseClaimValue returns new value of claim, resolving dependencies on other disclosures.
func discloseClaimValue(claim interface{}, recData *recursiveData) (interface{}, error) { // nolint:funlen,gocyclo
	switch disclosureValue := claim.(type) {
	case []interface{}:
		newValues := make([]interface{}, 0, len(disclosureValue))

		for _, value := range disclosureValue {
			parsedMap, ok := getMap(value)
			if !ok {
				// If it's not a map - use value as it is.
				newValues = append(newValues, value)
				continue
			}

			// Find all array elements that are objects with one key, that key being ... and referring to a string.
			arrayElementDigestIface, ok := parsedMap[ArrayElementDigestKey]
			if !ok {
				// If it's not an array element digest object - use value as it is.
				newValues = append(newValues, value)
				continue
			}

			arrayElementDigest, ok := arrayElementDigestIface.(string)
			if !ok {
				return nil, errors.New("invalid array struct")
			}

			if slices.Contains(recData.nestedSD, arrayElementDigest) {
				// If any digests were found more than once, the SD-JWT MUST be rejected.
				return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
					ErrDisclosureDigestMismatch, arrayElementDigest)
			}

			recData.nestedSD = append(recData.nestedSD, arrayElementDigest)

			disclosureClaim, ok := recData.disclosures[arrayElementDigest]
			if !ok {
				if recData.cleanupDigestsClaims {
					// Claim stays hidden - drop the element.
					continue
				}
				// If there is no disclosure provided for given array element digest - use map as it is.
				newValues = append(newValues, value)

				continue
			}

			// If the digest was found in an array element:
			// if the respective disclosure is not a JSON-encoded array of two elements, the SD-JWT MUST be rejected.
			if disclosureClaim.Elements != disclosureElementsAmountForArrayDigest {
				return nil, fmt.Errorf("%w: invalid disclosure associated with array element digest %s",
					ErrDisclosureDigestMismatch, arrayElementDigest)
			}

			if err := setDisclosureClaimValue(recData, disclosureClaim); err != nil {
				return nil, err
			}

			newValues = append(newValues, disclosureClaim.Value)
		}

		// An array whose every element was withheld stays in place as an empty array.
		return newValues, nil
	case map[string]interface{}:
		newValues := make(map[string]interface{}, len(disclosureValue))

		if nestedSDListIface, ok := disclosureValue[SDKey]; ok { // nolint:nestif
			nestedSDList, err := stringArray(nestedSDListIface)
			if err != nil {
				return nil, fmt.Errorf("get disclosure digests: %w", err)
			}

			var missingSDs []interface{}

			for _, digest := range nestedSDList {
				if slices.Contains(recData.nestedSD, digest) {
					// If any digests were found more than once, the SD-JWT MUST be rejected.
					return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
						ErrDisclosureDigestMismatch, digest)
				}

				recData.nestedSD = append(recData.nestedSD, digest)

				disclosureClaim, ok := recData.disclosures[digest]
				if !ok {
					missingSDs = append(missingSDs, digest)
					continue
				}

				if disclosureClaim.Elements != disclosureElementsAmountForSDDigest {
					// If the digest was found in an object's _sd key:
					// if the respective disclosure is not a JSON-encoded array of three elements,
					// the SD-JWT MUST be rejected.
					return nil, fmt.Errorf("%w: invalid disclosure associated with sd element digest %s",
						ErrDisclosureDigestMismatch, digest)
				}

				if err = setDisclosureClaimValue(recData, disclosureClaim); err != nil {
					return nil, err
				}

				// If the claim name already exists at the same level, the SD-JWT MUST be rejected.
				if _, ok = newValues[disclosureClaim.Name]; ok {
					return nil, fmt.Errorf("claim name '%s' already exists at the same level", disclosureClaim.Name)
				}

				newValues[disclosureClaim.Name] = disclosureClaim.Value
			}

			if !recData.cleanupDigestsClaims && len(missingSDs) > 0 {
				newValues[SDKey] = missingSDs
			}
		}

		for k, disclosureNestedClaim := range disclosureValue {
			if k == SDKey {
				continue
			}

			if k == SDAlgorithmKey && recData.cleanupDigestsClaims {
				continue
			}

			newValue, err := discloseClaimValue(disclosureNestedClaim, recData)
			if err != nil {
				return nil, err
			}

			// If the claim name already exists at the same level, the SD-JWT MUST be rejected.
			if _, ok := newValues[k]; ok {
				return nil, fmt.Errorf("claim name '%s' already exists at the same level", k)
			}

			newValues[k] = newValue
		}

		return newValues, nil
	default:
		return claim, nil
	}
}
