/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the Verifier: An entity that requests, checks and extracts the claims from an SD-JWT and
respective Disclosures.
*/
package verifier

import (
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
)

// KeyBindingPolicy tells the Verifier what to require from the key binding JWT segment
// of a presentation.
type KeyBindingPolicy int

const (
	// KeyBindingOptional accepts a presentation with or without a key binding JWT; a present
	// key binding JWT is still fully verified.
	KeyBindingOptional = KeyBindingPolicy(iota)
	// KeyBindingMustBePresent rejects a presentation without a key binding JWT.
	KeyBindingMustBePresent
	// KeyBindingMustNotBePresent rejects a presentation with a key binding JWT.
	KeyBindingMustNotBePresent
)

// parseOpts holds options for the SD-JWT parsing.
type parseOpts struct {
	detachedPayload []byte
	sigVerifier     jose.SignatureVerifier

	issuerSigningAlgorithms []string
	holderSigningAlgorithms []string

	keyBindingPolicy   KeyBindingPolicy
	keyBindingPolicyFn func(keyBindingPresent bool) error

	expectedAudienceForKeyBinding string
	expectedNonceForKeyBinding    string

	leewayForClaimsValidation time.Duration

	expectedTypHeader string
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *parseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *parseOpts) {
		opts.detachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *parseOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.issuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *parseOpts) {
		opts.holderSigningAlgorithms = algorithms
	}
}

// WithKeyBindingPolicy sets what the Verifier requires from the key binding JWT segment
// (default is KeyBindingOptional).
func WithKeyBindingPolicy(policy KeyBindingPolicy) ParseOpt {
	return func(opts *parseOpts) {
		opts.keyBindingPolicy = policy
	}
}

// WithKeyBindingRequired option is for enforcing key binding (shorthand for
// WithKeyBindingPolicy(KeyBindingMustBePresent)).
func WithKeyBindingRequired(flag bool) ParseOpt {
	return func(opts *parseOpts) {
		if flag {
			opts.keyBindingPolicy = KeyBindingMustBePresent
		}
	}
}

// WithKeyBindingPolicyFn sets a custom predicate deciding whether the presence or absence
// of a key binding JWT is acceptable. A non-nil error rejects the presentation with
// ErrKeyBindingPolicyViolation. The predicate runs after the static policy; a present key
// binding JWT it accepts is still fully verified.
func WithKeyBindingPolicyFn(policyFn func(keyBindingPresent bool) error) ParseOpt {
	return func(opts *parseOpts) {
		opts.keyBindingPolicyFn = policyFn
	}
}

// WithExpectedAudienceForKeyBinding option is to pass expected audience for key binding JWT.
func WithExpectedAudienceForKeyBinding(audience string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedAudienceForKeyBinding = audience
	}
}

// WithExpectedNonceForKeyBinding option is to pass nonce value for key binding JWT.
func WithExpectedNonceForKeyBinding(nonce string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedNonceForKeyBinding = nonce
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *parseOpts) {
		opts.leewayForClaimsValidation = duration
	}
}

// WithExpectedTypHeader is an option for JWT typ header validation.
// Might be relevant for SD-JWT VC use case.
func WithExpectedTypHeader(typ string) ParseOpt {
	return func(opts *parseOpts) {
		opts.expectedTypHeader = typ
	}
}

// Parse parses combined format for presentation and returns verified claims.
// The Verifier MUST perform the following (or equivalent) steps when receiving a Combined Format for Presentation:
//
//   - Determine if key binding is to be checked according to the Verifier's policy
//     for the use case at hand. This decision MUST NOT be based on whether
//     a key binding JWT is provided by the Holder or not.
//
//   - Check that the presentation is a valid serialization: the issuer-signed JWT followed by
//     the selected disclosures and the optional key binding JWT, separated by exactly one tilde each.
//
//   - Validate the signature over the SD-JWT, validate the issuer and that the signing key belongs to this issuer.
//
//   - Check that the _sd_alg claim value is understood and the hash algorithm is deemed secure.
//
//   - Process the disclosures: every supplied disclosure must be referenced by a digest in the
//     claim tree exactly once; malformed or unmatched disclosures reject the presentation.
//
//   - If key binding is present (or required): validate the key binding JWT signature with the
//     key from the cnf claim, its typ header, nonce, audience, and the sd_hash digest over the
//     presentation prefix.
//
// The Verifier will extract the claims and pass them to the application for processing.
func Parse(combinedFormatForPresentation string, opts ...ParseOpt) (map[string]interface{}, error) {
	pOpts := defaultOpts()

	for _, opt := range opts {
		opt(pOpts)
	}

	// Separate the presentation into the SD-JWT, the Disclosures (if any), and the key binding JWT (if provided).
	cfp, err := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)
	if err != nil {
		return nil, err
	}

	signedJWT, err := validateIssuerSignedSDJWT(cfp.SDJWT, cfp.Disclosures, pOpts)
	if err != nil {
		return nil, err
	}

	err = verifyKeyBinding(signedJWT, cfp.KeyBindingJWT, combinedFormatForPresentation, pOpts)
	if err != nil {
		return nil, err
	}

	return getDisclosedClaims(cfp.Disclosures, signedJWT)
}

// ParseIssuance parses combined format for issuance and returns verified claims.
// The issuance format never carries a key binding JWT, so the serialization must end
// with a separator.
func ParseIssuance(combinedFormatForIssuance string, opts ...ParseOpt) (map[string]interface{}, error) {
	pOpts := defaultOpts()

	for _, opt := range opts {
		opt(pOpts)
	}

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	if err != nil {
		return nil, err
	}

	signedJWT, err := validateIssuerSignedSDJWT(cfi.SDJWT, cfi.Disclosures, pOpts)
	if err != nil {
		return nil, err
	}

	return getDisclosedClaims(cfi.Disclosures, signedJWT)
}

func defaultOpts() *parseOpts {
	return &parseOpts{
		issuerSigningAlgorithms:   []string{"EdDSA", "RS256"},
		holderSigningAlgorithms:   []string{"EdDSA", "RS256"},
		leewayForClaimsValidation: jwt.DefaultLeeway,
	}
}

func validateIssuerSignedSDJWT(sdjwt string, disclosures []string, pOpts *parseOpts) (*afgjwt.JSONWebToken, error) {
	if pOpts.sigVerifier == nil {
		return nil, fmt.Errorf("%w: signature verifier not provided", common.ErrInvalidJWT)
	}

	var jwtOpts []afgjwt.ParseOpt
	jwtOpts = append(jwtOpts,
		afgjwt.WithSignatureVerifier(pOpts.sigVerifier),
		afgjwt.WithJWTDetachedPayload(pOpts.detachedPayload))

	// Validate the signature over the SD-JWT.
	signedJWT, _, err := afgjwt.Parse(sdjwt, jwtOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidJWT, err.Error())
	}

	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err = common.VerifySigningAlg(signedJWT.Headers, pOpts.issuerSigningAlgorithms)
	if err != nil {
		return nil, err
	}

	if pOpts.expectedTypHeader != "" {
		err = common.VerifyTyp(signedJWT.Headers, pOpts.expectedTypHeader)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", common.ErrInvalidJWT, err.Error())
		}
	}

	// Check that the SD-JWT is valid using nbf, iat, and exp claims,
	// if provided in the SD-JWT, and not selectively disclosed.
	err = common.VerifyJWT(signedJWT, pOpts.leewayForClaimsValidation)
	if err != nil {
		return nil, err
	}

	// Check that there are no duplicate disclosures.
	err = common.CheckForDuplicates(disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	// Verify that all disclosures are present in SD-JWT.
	err = common.VerifyDisclosuresInSDJWT(disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	return signedJWT, nil
}

func verifyKeyBinding(sdJWT *afgjwt.JSONWebToken, keyBindingJWT, presentation string, pOpts *parseOpts) error {
	switch pOpts.keyBindingPolicy {
	case KeyBindingMustBePresent:
		if keyBindingJWT == "" {
			return fmt.Errorf("%w: key binding JWT is required", common.ErrKeyBindingPolicyViolation)
		}
	case KeyBindingMustNotBePresent:
		if keyBindingJWT != "" {
			return fmt.Errorf("%w: key binding JWT must not be present", common.ErrKeyBindingPolicyViolation)
		}
	}

	if pOpts.keyBindingPolicyFn != nil {
		if err := pOpts.keyBindingPolicyFn(keyBindingJWT != ""); err != nil {
			return fmt.Errorf("%w: %s", common.ErrKeyBindingPolicyViolation, err.Error())
		}
	}

	if keyBindingJWT == "" {
		return nil
	}

	signatureVerifier, err := getSignatureVerifier(sdJWT.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrInvalidKeyBindingSignature, err.Error())
	}

	kbJWT, _, err := afgjwt.Parse(keyBindingJWT, afgjwt.WithSignatureVerifier(signatureVerifier))
	if err != nil {
		return fmt.Errorf("%w: parse JWT: %s", common.ErrInvalidKeyBindingSignature, err.Error())
	}

	err = common.VerifyTyp(kbJWT.Headers, common.TypeKeyBindingJWT)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrInvalidKeyBindingSignature, err.Error())
	}

	err = common.VerifySigningAlg(kbJWT.Headers, pOpts.holderSigningAlgorithms)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrInvalidKeyBindingSignature, err.Error())
	}

	var kbPayload keyBindingPayload

	err = kbJWT.DecodeClaims(&kbPayload)
	if err != nil {
		return fmt.Errorf("%w: decode claims: %s", common.ErrInvalidKeyBindingSignature, err.Error())
	}

	if pOpts.expectedNonceForKeyBinding != "" && pOpts.expectedNonceForKeyBinding != kbPayload.Nonce {
		return fmt.Errorf("nonce value '%s' does not match expected nonce value", kbPayload.Nonce)
	}

	if pOpts.expectedAudienceForKeyBinding != "" && pOpts.expectedAudienceForKeyBinding != kbPayload.Audience {
		return fmt.Errorf("%w: audience value '%s' does not match expected audience value",
			common.ErrAudienceMismatch, kbPayload.Audience)
	}

	return verifySDHash(sdJWT, kbPayload.SDHash, presentation)
}

// verifySDHash recomputes the digest over the presentation prefix (everything up to and
// including the final separator) and compares it to the sd_hash claim of the key binding JWT.
func verifySDHash(sdJWT *afgjwt.JSONWebToken, sdHash, presentation string) error {
	if sdHash == "" {
		return fmt.Errorf("%w: %s must be present in key binding JWT", common.ErrMissingRequiredDigest, common.SDHashKey)
	}

	cryptoHash, err := common.GetCryptoHashFromClaims(sdJWT.Payload)
	if err != nil {
		return err
	}

	prefix, _ := common.SplitPresentation(presentation)

	expected, err := common.GetHash(cryptoHash, prefix)
	if err != nil {
		return err
	}

	if sdHash != expected {
		return fmt.Errorf("%w: %s value '%s' does not match digest over presentation",
			common.ErrSDHashMismatch, common.SDHashKey, sdHash)
	}

	return nil
}

func getSignatureVerifier(claims map[string]interface{}) (jose.SignatureVerifier, error) {
	cnf, err := common.GetCNF(claims)
	if err != nil {
		return nil, err
	}

	signatureVerifier, err := getSignatureVerifierFromCNF(cnf)
	if err != nil {
		return nil, err
	}

	return signatureVerifier, nil
}

// getSignatureVerifierFromCNF will evolve over time as we support more cnf modes and algorithms.
func getSignatureVerifierFromCNF(cnf map[string]interface{}) (jose.SignatureVerifier, error) {
	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, fmt.Errorf("jwk must be present in cnf")
	}

	// TODO: Add handling other methods: "jwe", "jku", "kid"

	jwkObjBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	jwk := gojose.JSONWebKey{}

	err = jwk.UnmarshalJSON(jwkObjBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal jwk: %w", err)
	}

	signatureVerifier, err := getSignatureVerifierFromJWK(&jwk)
	if err != nil {
		return nil, err
	}

	return signatureVerifier, nil
}

func getSignatureVerifierFromJWK(jwk *gojose.JSONWebKey) (jose.SignatureVerifier, error) {
	switch key := jwk.Key.(type) {
	case ed25519.PublicKey:
		return afgjwt.NewEd25519Verifier(key)
	case *rsa.PublicKey:
		return afgjwt.NewRS256Verifier(key), nil
	default:
		return nil, fmt.Errorf("unsupported key type %T for key binding verification", key)
	}
}

func getDisclosedClaims(disclosures []string, signedJWT *afgjwt.JSONWebToken) (map[string]interface{}, error) {
	disclosedClaims, err := common.GetDisclosedClaimsFromDisclosures(disclosures, signedJWT.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to get disclosed claims: %w", err)
	}

	return disclosedClaims, nil
}

// keyBindingPayload represents expected key binding payload.
type keyBindingPayload struct {
	Nonce    string `json:"nonce,omitempty"`
	Audience string `json:"aud,omitempty"`
	SDHash   string `json:"sd_hash,omitempty"`
}
