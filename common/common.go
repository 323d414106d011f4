/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// CombinedFormatSeparator is disclosure separator.
const (
	CombinedFormatSeparator = "~"

	// SDAlgorithmKey is the top-level claim naming the disclosure hash algorithm.
	SDAlgorithmKey = "_sd_alg"
	// SDKey is the object-level claim holding disclosure digests.
	SDKey = "_sd"
	// ArrayElementDigestKey marks a hidden array element.
	ArrayElementDigestKey = "..."
	// SDHashKey is the key binding JWT claim holding the presentation digest.
	SDHashKey = "sd_hash"
	// CNFKey is the confirmation claim carrying the holder public key.
	CNFKey = "cnf"

	// TypeKeyBindingJWT is the typ header value of a key binding JWT.
	TypeKeyBindingJWT = "kb+jwt"

	// EnvelopedSDJWTClaim is the claim of an enveloping JWT carrying a serialized presentation.
	EnvelopedSDJWTClaim = "_sd_jwt"
)

// ReservedClaimNames are claim names that cannot be used as literal claim names.
var ReservedClaimNames = map[string]bool{
	SDKey:                 true,
	SDAlgorithmKey:        true,
	ArrayElementDigestKey: true,
}

// CombinedFormatForIssuance holds SD-JWT and disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize will assemble combined format for issuance: JWT ('~' Disclosure)* '~'.
// The result always ends with a separator, yielding n+1 separators for n disclosures.
func (cf *CombinedFormatForIssuance) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	return presentation + CombinedFormatSeparator
}

// CombinedFormatForPresentation holds SD-JWT, selected disclosures and optional key binding JWT.
type CombinedFormatForPresentation struct {
	SDJWT       string
	Disclosures []string

	// KeyBindingJWT is the holder-signed JWT binding the presentation to a verifier interaction.
	KeyBindingJWT string
}

// Serialize will assemble combined format for presentation: JWT ('~' Disclosure)* '~' [KB-JWT].
// The result contains n+1 separators for n disclosures; it ends with a separator exactly when
// no key binding JWT is present.
func (cf *CombinedFormatForPresentation) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	return presentation + CombinedFormatSeparator + cf.KeyBindingJWT
}

// ParseCombinedFormatForIssuance parses combined format for issuance into CombinedFormatForIssuance parts.
// The segment after the last separator must be empty.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) (*CombinedFormatForIssuance, error) {
	parts := strings.Split(combinedFormatForIssuance, CombinedFormatSeparator)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least one '%s' separator",
			ErrMalformedSerialization, CombinedFormatSeparator)
	}

	if parts[len(parts)-1] != "" {
		return nil, fmt.Errorf("%w: issuance format must end with '%s'",
			ErrMalformedSerialization, CombinedFormatSeparator)
	}

	disclosures := parts[1 : len(parts)-1]

	for _, disclosure := range disclosures {
		if err := ValidateDisclosure(disclosure); err != nil {
			return nil, err
		}
	}

	return &CombinedFormatForIssuance{SDJWT: parts[0], Disclosures: disclosures}, nil
}

// ParseCombinedFormatForPresentation parses combined format for presentation into
// CombinedFormatForPresentation parts. The segment after the last separator is the
// key binding JWT; it is empty when no key binding JWT is present.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) (*CombinedFormatForPresentation, error) { // nolint:lll
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least one '%s' separator",
			ErrMalformedSerialization, CombinedFormatSeparator)
	}

	disclosures := parts[1 : len(parts)-1]

	for _, disclosure := range disclosures {
		if err := ValidateDisclosure(disclosure); err != nil {
			return nil, err
		}
	}

	return &CombinedFormatForPresentation{
		SDJWT:         parts[0],
		Disclosures:   disclosures,
		KeyBindingJWT: parts[len(parts)-1],
	}, nil
}

// SplitPresentation splits a serialized presentation into the key binding input (everything
// up to and including the last separator) and the key binding JWT segment (possibly empty).
func SplitPresentation(presentation string) (string, string) {
	index := strings.LastIndex(presentation, CombinedFormatSeparator)
	if index == -1 {
		return presentation, ""
	}

	return presentation[:index+1], presentation[index+1:]
}

// GetHash calculates base64url-encoded hash of data using hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("%w: hash function not available for: %d", ErrUnsupportedHashAlgorithm, hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	result := h.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(result), nil
}

// GetCryptoHashFromClaims returns crypto hash from claims.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	var cryptoHash crypto.Hash

	// check that the _sd_alg claim is present
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return cryptoHash, err
	}

	// check that _sd_alg value is understood and the hash algorithm is deemed secure.
	return GetCryptoHash(sdAlg)
}

// GetCryptoHash returns crypto hash from SD algorithm.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	// From spec: the hash algorithms MD2, MD4, MD5, RIPEMD-160, and SHA-1 revealed fundamental weaknesses
	// and they MUST NOT be used.
	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		return crypto.SHA256, nil
	case crypto.SHA384.String():
		return crypto.SHA384, nil
	case crypto.SHA512.String():
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%w: %s '%s'", ErrUnsupportedHashAlgorithm, SDAlgorithmKey, sdAlg)
	}
}

// FormatSDAlg returns the _sd_alg claim value for a crypto hash.
func FormatSDAlg(hash crypto.Hash) string {
	return strings.ToLower(hash.String())
}

// GetSDAlg returns SD algorithm from claims.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return "", fmt.Errorf("%w: %s must be present in SD-JWT", ErrUnsupportedHashAlgorithm, SDAlgorithmKey)
	}

	alg, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrUnsupportedHashAlgorithm, SDAlgorithmKey)
	}

	return alg, nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in SD-JWT", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

func getMap(value interface{}) (map[string]interface{}, bool) {
	val, ok := value.(map[string]interface{})

	return val, ok
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	sliceValue := reflect.ValueOf(entry)
	if sliceValue.Kind() != reflect.Slice {
		return nil, fmt.Errorf("entry type[%T] is not an array", entry)
	}

	stringSlice := make([]string, sliceValue.Len())

	for i := 0; i < sliceValue.Len(); i++ {
		sliceVal := sliceValue.Index(i).Interface()
		val, ok := sliceVal.(string)

		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string", sliceVal)
		}

		stringSlice[i] = val
	}

	return stringSlice, nil
}

// SliceToMap converts slice to map.
func SliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}

// KeyExistsInMap checks if key exists in map, at the top level or nested deeper.
func KeyExistsInMap(key string, m map[string]interface{}) bool {
	for k, v := range m {
		if k == key {
			return true
		}

		if obj, ok := v.(map[string]interface{}); ok {
			exists := KeyExistsInMap(key, obj)
			if exists {
				return true
			}
		}
	}

	return false
}
