/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
)

// defaultEnvelopeMaxAge bounds how old an envelope iat claim may be.
const defaultEnvelopeMaxAge = 5 * time.Minute

// envelopeOpts holds options for enveloped presentation parsing.
type envelopeOpts struct {
	sigVerifier jose.SignatureVerifier

	expectedAudience string

	maxAge time.Duration
	clock  func() time.Time
}

// EnvelopeOpt is an enveloped presentation parser option.
type EnvelopeOpt func(opts *envelopeOpts)

// WithEnvelopeSignatureVerifier option is for definition of envelope JWT signature verifier.
func WithEnvelopeSignatureVerifier(signatureVerifier jose.SignatureVerifier) EnvelopeOpt {
	return func(opts *envelopeOpts) {
		opts.sigVerifier = signatureVerifier
	}
}

// WithExpectedAudienceForEnvelope option is to pass the expected aud value of the envelope JWT.
func WithExpectedAudienceForEnvelope(audience string) EnvelopeOpt {
	return func(opts *envelopeOpts) {
		opts.expectedAudience = audience
	}
}

// WithEnvelopeMaxAge option bounds how far in the past the envelope iat claim may lie
// (default is 5 minutes).
func WithEnvelopeMaxAge(maxAge time.Duration) EnvelopeOpt {
	return func(opts *envelopeOpts) {
		opts.maxAge = maxAge
	}
}

// WithEnvelopeClock option is for overriding the time source. Mostly used for testing.
func WithEnvelopeClock(clock func() time.Time) EnvelopeOpt {
	return func(opts *envelopeOpts) {
		opts.clock = clock
	}
}

// ParseEnveloped parses an enveloped presentation: an outer JWT signed by the Holder whose
// _sd_jwt claim carries a serialized presentation without a key binding JWT. The envelope
// signature, audience and freshness replace the key binding JWT, so the embedded presentation
// MUST NOT contain one.
//
// The inner presentation is verified with the supplied issuer parse options and the verified
// claims are returned.
func ParseEnveloped(envelopeJWT string, envelopeOpt []EnvelopeOpt, opts ...ParseOpt) (map[string]interface{}, error) {
	eOpts := &envelopeOpts{
		maxAge: defaultEnvelopeMaxAge,
		clock:  time.Now,
	}

	for _, opt := range envelopeOpt {
		opt(eOpts)
	}

	if eOpts.sigVerifier == nil {
		return nil, fmt.Errorf("%w: envelope signature verifier not provided", common.ErrInvalidJWT)
	}

	envelope, _, err := afgjwt.Parse(envelopeJWT, afgjwt.WithSignatureVerifier(eOpts.sigVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: parse envelope: %s", common.ErrInvalidJWT, err.Error())
	}

	presentation, err := envelopePresentation(envelope)
	if err != nil {
		return nil, err
	}

	err = verifyEnvelopeClaims(envelope, eOpts)
	if err != nil {
		return nil, err
	}

	opts = append(opts, WithKeyBindingPolicy(KeyBindingMustNotBePresent))

	return Parse(presentation, opts...)
}

func envelopePresentation(envelope *afgjwt.JSONWebToken) (string, error) {
	obj, ok := envelope.Payload[common.EnvelopedSDJWTClaim]
	if !ok {
		return "", fmt.Errorf("%w: %s must be present in envelope",
			common.ErrMalformedSerialization, common.EnvelopedSDJWTClaim)
	}

	presentation, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string",
			common.ErrMalformedSerialization, common.EnvelopedSDJWTClaim)
	}

	return presentation, nil
}

func verifyEnvelopeClaims(envelope *afgjwt.JSONWebToken, eOpts *envelopeOpts) error {
	var claims envelopePayload

	err := envelope.DecodeClaims(&claims)
	if err != nil {
		return fmt.Errorf("%w: decode envelope claims: %s", common.ErrInvalidJWT, err.Error())
	}

	if eOpts.expectedAudience != "" && eOpts.expectedAudience != claims.Audience {
		return fmt.Errorf("%w: envelope audience value '%s' does not match expected audience value",
			common.ErrAudienceMismatch, claims.Audience)
	}

	if claims.IssuedAt == nil {
		return fmt.Errorf("%w: iat must be present in envelope", common.ErrStaleIssuedAt)
	}

	now := eOpts.clock()

	issuedAt := claims.IssuedAt.Time()
	if issuedAt.Before(now.Add(-eOpts.maxAge)) || issuedAt.After(now.Add(jwt.DefaultLeeway)) {
		return fmt.Errorf("%w: envelope iat %s is outside the accepted window",
			common.ErrStaleIssuedAt, issuedAt.Format(time.RFC3339))
	}

	return nil
}

// envelopePayload represents expected envelope JWT payload.
type envelopePayload struct {
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
}
