/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package holder enables the Holder: an entity that receives SD-JWTs from the Issuer and
has control over them, presenting a chosen subset of the disclosures to a Verifier.
*/
package holder

import (
	"crypto"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
)

// Claim defines claim.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
}

// jwtParseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	detachedPayload []byte
	sigVerifier     jose.SignatureVerifier
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *parseOpts) {
		opts.detachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of JWT detached payload.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// Parse parses combined format for issuance and returns claims that can be selected.
// The Holder MUST perform the following (or equivalent) steps when receiving a Combined Format for Issuance:
//
//   - Separate the SD-JWT and the Disclosures in the Combined Format for Issuance.
//
//   - Hash all of the Disclosures separately.
//
//   - Find the places in the SD-JWT where the digests of the Disclosures are included.
//
//   - If any of the digests cannot be found in the SD-JWT, the Holder MUST reject the SD-JWT.
//
//   - Decode Disclosures and obtain plaintext of the claim values.
//
// It is up to the Holder how to maintain the mapping between the Disclosures and the claim values.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	pOpts := &parseOpts{
		sigVerifier: &NoopSignatureVerifier{},
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	var jwtOpts []afgjwt.ParseOpt
	jwtOpts = append(jwtOpts,
		afgjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afgjwt.WithJWTDetachedPayload(pOpts.detachedPayload))

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	if err != nil {
		return nil, err
	}

	signedJWT, _, err := afgjwt.Parse(cfi.SDJWT, jwtOpts...)
	if err != nil {
		return nil, err
	}

	err = common.VerifyDisclosuresInSDJWT(cfi.Disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	cryptoHash, err := common.GetCryptoHashFromClaims(signedJWT.Payload)
	if err != nil {
		return nil, err
	}

	return getClaims(cfi.Disclosures, cryptoHash)
}

func getClaims(disclosures []string, hash crypto.Hash) ([]*Claim, error) {
	disclosureClaims, err := common.GetDisclosureClaims(disclosures, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims from disclosures: %w", err)
	}

	var claims []*Claim
	for _, disclosure := range disclosureClaims {
		claims = append(claims,
			&Claim{
				Disclosure: disclosure.Disclosure,
				Name:       disclosure.Name,
				Value:      disclosure.Value,
			})
	}

	return claims, nil
}

// BindingPayload represents holder verification payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
	SDHash   string           `json:"sd_hash,omitempty"`
}

// BindingInfo defines holder verification payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  jose.Signer
	Headers jose.Headers
}

// options holds options for holder.
type options struct {
	holderVerificationInfo *BindingInfo
}

// Option is a holder option.
type Option func(opts *options)

// WithHolderBinding option to set optional holder binding.
// Deprecated. Use WithHolderVerification instead.
func WithHolderBinding(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderVerificationInfo = info
	}
}

// WithHolderVerification option to set optional holder verification.
func WithHolderVerification(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderVerificationInfo = info
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation
// using selected disclosures (claimsToDisclose) and optional holder verification.
// The combined format for presentation has the following format:
// <SD-JWT>~<Disclosure 1>~<Disclosure 2>~...~<Disclosure N>~<optional Key Binding JWT>
// In case of no Key Binding JWT, the last element MUST be an empty string.
func CreatePresentation(combinedFormatForIssuance string, claimsToDisclose []string, opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	if err != nil {
		return "", err
	}

	if len(cfi.Disclosures) == 0 && len(claimsToDisclose) > 0 {
		return "", fmt.Errorf("no disclosures found in SD-JWT")
	}

	disclosuresMap := common.SliceToMap(cfi.Disclosures)

	for _, ctd := range claimsToDisclose {
		if _, ok := disclosuresMap[ctd]; !ok {
			return "", fmt.Errorf("disclosure '%s' not found in SD-JWT", ctd)
		}
	}

	// Filter the issued disclosure list instead of re-ordering the selection,
	// so the issuance order is preserved through the presentation.
	claimsToDiscloseMap := common.SliceToMap(claimsToDisclose)

	var selected []string

	for _, disclosure := range cfi.Disclosures {
		if _, ok := claimsToDiscloseMap[disclosure]; ok {
			selected = append(selected, disclosure)
		}
	}

	cf := common.CombinedFormatForPresentation{
		SDJWT:       cfi.SDJWT,
		Disclosures: selected,
	}

	if hOpts.holderVerificationInfo != nil {
		cf.KeyBindingJWT, err = CreateHolderVerification(cf.Serialize(), hOpts.holderVerificationInfo)
		if err != nil {
			return "", fmt.Errorf("failed to create holder verification: %w", err)
		}
	}

	return cf.Serialize(), nil
}

// CreateHolderVerification will create holder verification (Key Binding JWT) for the given
// presentation prefix. The sd_hash claim is computed over the serialized presentation up to
// and including the final tilde, with the hash algorithm announced in the SD-JWT payload.
func CreateHolderVerification(presentation string, info *BindingInfo) (string, error) {
	prefix, _ := common.SplitPresentation(presentation)

	cfp, err := common.ParseCombinedFormatForPresentation(presentation)
	if err != nil {
		return "", err
	}

	signedJWT, _, err := afgjwt.Parse(cfp.SDJWT, afgjwt.WithSignatureVerifier(&NoopSignatureVerifier{}))
	if err != nil {
		return "", err
	}

	cryptoHash, err := common.GetCryptoHashFromClaims(signedJWT.Payload)
	if err != nil {
		return "", err
	}

	sdHash, err := common.GetHash(cryptoHash, prefix)
	if err != nil {
		return "", err
	}

	info.Payload.SDHash = sdHash

	headers := info.Headers
	if headers == nil {
		headers = make(jose.Headers)
	}

	if _, ok := headers.Type(); !ok {
		headers[jose.HeaderType] = common.TypeKeyBindingJWT
	}

	hbJWT, err := afgjwt.NewSigned(info.Payload, headers, info.Signer)
	if err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrSigningFailed, err.Error())
	}

	return hbJWT.Serialize(false)
}

// NoopSignatureVerifier is no-op signature verifier (signature will not get checked).
type NoopSignatureVerifier struct {
}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(joseHeaders jose.Headers, payload, signingInput, signature []byte) error {
	return nil
}

// BindingPayloadFromMap builds a BindingPayload from a generic claims map. Mostly used for testing.
func BindingPayloadFromMap(claims map[string]interface{}) (*BindingPayload, error) {
	bytes, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}

	var payload BindingPayload
	if err := json.Unmarshal(bytes, &payload); err != nil {
		return nil, err
	}

	return &payload, nil
}
