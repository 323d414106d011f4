/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"sort"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
)

// WithStructuredClaims is an option for handling structured claims (default is false).
// When enabled, map claim values keep their keys visible and their nested values become
// individually disclosable, instead of hiding the whole object behind a single digest.
func WithStructuredClaims(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.structuredClaims = flag
	}
}

// WithNonSelectivelyDisclosableClaims is an option for provided claim names that should be
// ignored by the selective disclosure logic and kept in clear text. Nested claims are
// addressed with a dot-separated path (e.g. "address.country").
func WithNonSelectivelyDisclosableClaims(nonSDClaims []string) NewOpt {
	return func(opts *newOpts) {
		opts.nonSDClaimsMap = common.SliceToMap(nonSDClaims)
	}
}

// WithRecursiveClaimsObjects is an option for provided object claim names that should be
// hidden recursively: the nested values become individually disclosable and the object
// itself, key included, is hidden behind one more digest. Nested claims are addressed
// with a dot-separated path.
func WithRecursiveClaimsObjects(recursiveClaims []string) NewOpt {
	return func(opts *newOpts) {
		opts.recursiveClaimMap = common.SliceToMap(recursiveClaims)
	}
}

// NewFromClaims creates a new signed Selective Disclosure JWT from a flat claims map.
// Map iteration order is not deterministic, so claims are processed in sorted key order;
// that order becomes the declaration order of the produced disclosures.
//
// By default every top-level claim is hidden behind a single digest. The conversion is
// shaped with WithStructuredClaims, WithRecursiveClaimsObjects and
// WithNonSelectivelyDisclosableClaims.
func NewFromClaims(issuer string, claims map[string]interface{}, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := prepareOpts(opts)

	spec, err := claimsToSpec(claims, "", nOpts)
	if err != nil {
		return nil, err
	}

	return New(issuer, spec, headers, signer, opts...)
}

func claimsToSpec(claims map[string]interface{}, basePath string, nOpts *newOpts) (*ClaimSpec, error) {
	builder := NewSpecBuilder()

	for _, name := range sortedKeys(claims) {
		value := claims[name]

		path := name
		if basePath != "" {
			path = basePath + "." + name
		}

		if nOpts.nonSDClaimsMap[path] {
			builder.Plain(name, value)

			continue
		}

		valueMap, isMap := value.(map[string]interface{})

		switch {
		case isMap && nOpts.recursiveClaimMap[path]:
			nestedPath := path

			builder.Recursive(name, func(nested *SpecBuilder) {
				appendSpec(nested, valueMap, nestedPath, nOpts)
			})
		case isMap && nOpts.structuredClaims:
			nestedPath := path

			builder.Structured(name, func(nested *SpecBuilder) {
				appendSpec(nested, valueMap, nestedPath, nOpts)
			})
		default:
			builder.Disclosable(name, value)
		}
	}

	return builder.Build()
}

func appendSpec(builder *SpecBuilder, claims map[string]interface{}, basePath string, nOpts *newOpts) {
	nested, err := claimsToSpec(claims, basePath, nOpts)
	if err != nil {
		// Builder keeps the first error and surfaces it from Build.
		builder.err = err

		return
	}

	builder.entries = nested.entries
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))

	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
