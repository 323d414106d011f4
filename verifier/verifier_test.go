/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package verifier

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/holder"
	"github.com/trustbloc/sdjwt-go/issuer"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
	"github.com/trustbloc/sdjwt-go/resolver"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "https://verifier.example.com"
)

type testKeys struct {
	issuerPubKey  ed25519.PublicKey
	issuerPrivKey ed25519.PrivateKey
	holderPubKey  ed25519.PublicKey
	holderPrivKey ed25519.PrivateKey
}

func generateTestKeys(t *testing.T) *testKeys {
	t.Helper()

	issuerPubKey, issuerPrivKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &testKeys{
		issuerPubKey:  issuerPubKey,
		issuerPrivKey: issuerPrivKey,
		holderPubKey:  holderPubKey,
		holderPrivKey: holderPrivKey,
	}
}

func (k *testKeys) issueAddressSDJWT(t *testing.T) string {
	t.Helper()

	r := require.New(t)

	spec, err := issuer.NewSpecBuilder().
		Structured("address", func(address *issuer.SpecBuilder) {
			address.Disclosable("street_address", "Schulstr. 12").
				Disclosable("locality", "Schulpforta").
				Disclosable("region", "Sachsen-Anhalt").
				Disclosable("country", "DE")
		}).
		Build()
	r.NoError(err)

	token, err := issuer.New(testIssuer, spec, nil, afgjwt.NewEd25519Signer(k.issuerPrivKey),
		issuer.WithHolderPublicKey(&gojose.JSONWebKey{Key: k.holderPubKey}),
		issuer.WithIssuedAt(jwt.NewNumericDate(time.Now())),
		issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(time.Hour))))
	r.NoError(err)

	combinedFormatForIssuance, err := token.Serialize(false)
	r.NoError(err)

	return combinedFormatForIssuance
}

func (k *testKeys) issuerVerifier(t *testing.T) *afgjwt.JoseEd25519Verifier {
	t.Helper()

	verifier, err := afgjwt.NewEd25519Verifier(k.issuerPubKey)
	require.NoError(t, err)

	return verifier
}

func (k *testKeys) presentAll(t *testing.T, combinedFormatForIssuance, nonce string) string {
	t.Helper()

	r := require.New(t)

	cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	r.NoError(err)

	presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures,
		holder.WithHolderVerification(&holder.BindingInfo{
			Payload: holder.BindingPayload{
				Nonce:    nonce,
				Audience: testAudience,
				IssuedAt: jwt.NewNumericDate(time.Now()),
			},
			Signer: afgjwt.NewEd25519Signer(k.holderPrivKey),
		}))
	r.NoError(err)

	return presentation
}

func TestParse(t *testing.T) {
	r := require.New(t)

	keys := generateTestKeys(t)
	combinedFormatForIssuance := keys.issueAddressSDJWT(t)

	t.Run("success - full address disclosed with key binding", func(t *testing.T) {
		nonce := uuid.New().String()
		presentation := keys.presentAll(t, combinedFormatForIssuance, nonce)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithKeyBindingPolicy(KeyBindingMustBePresent),
			WithExpectedNonceForKeyBinding(nonce),
			WithExpectedAudienceForKeyBinding(testAudience))
		r.NoError(err)

		address, ok := claims["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("Schulstr. 12", address["street_address"])
		r.Equal("Schulpforta", address["locality"])
		r.Equal("Sachsen-Anhalt", address["region"])
		r.Equal("DE", address["country"])
		r.NotContains(address, common.SDKey)
		r.NotContains(claims, common.SDAlgorithmKey)
	})

	t.Run("success - subset presentation hides the rest", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		countryDisclosure := findDisclosure(t, cfi.Disclosures, "country")

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, []string{countryDisclosure})
		r.NoError(err)

		claims, err := Parse(presentation, WithSignatureVerifier(keys.issuerVerifier(t)))
		r.NoError(err)

		address, ok := claims["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("DE", address["country"])
		r.NotContains(address, "street_address")
		r.NotContains(address, "locality")
		r.NotContains(address, "region")
	})

	t.Run("success - withholding every array element keeps an empty array", func(t *testing.T) {
		spec, err := issuer.NewSpecBuilder().
			Array("nationalities", func(nationalities *issuer.ArrayBuilder) {
				nationalities.Disclosable("FR").Disclosable("US")
			}).
			Build()
		r.NoError(err)

		token, err := issuer.New(testIssuer, spec, nil, afgjwt.NewEd25519Signer(keys.issuerPrivKey))
		r.NoError(err)

		cfi, err := token.Serialize(false)
		r.NoError(err)

		presentation, err := holder.CreatePresentation(cfi, nil)
		r.NoError(err)

		claims, err := Parse(presentation, WithSignatureVerifier(keys.issuerVerifier(t)))
		r.NoError(err)
		r.Equal([]interface{}{}, claims["nationalities"])
	})

	t.Run("error - wrong issuer key", func(t *testing.T) {
		otherKeys := generateTestKeys(t)
		presentation := keys.presentAll(t, combinedFormatForIssuance, "nonce")

		claims, err := Parse(presentation, WithSignatureVerifier(otherKeys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidJWT)
	})

	t.Run("error - no signature verifier", func(t *testing.T) {
		presentation := keys.presentAll(t, combinedFormatForIssuance, "nonce")

		claims, err := Parse(presentation)
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidJWT)
	})

	t.Run("error - tampered disclosure", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		rogueKeys := generateTestKeys(t)
		rogueCFI, err := common.ParseCombinedFormatForIssuance(rogueKeys.issueAddressSDJWT(t))
		r.NoError(err)

		tampered := common.CombinedFormatForPresentation{
			SDJWT:       cfi.SDJWT,
			Disclosures: []string{rogueCFI.Disclosures[0]},
		}

		claims, err := Parse(tampered.Serialize(), WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrUnusedDisclosure)
	})

	t.Run("error - duplicate disclosure", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		tampered := common.CombinedFormatForPresentation{
			SDJWT:       cfi.SDJWT,
			Disclosures: []string{cfi.Disclosures[0], cfi.Disclosures[0]},
		}

		claims, err := Parse(tampered.Serialize(), WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.Contains(err.Error(), "duplicate")
	})

	t.Run("error - expired SD-JWT", func(t *testing.T) {
		spec, err := issuer.NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := issuer.New(testIssuer, spec, nil, afgjwt.NewEd25519Signer(keys.issuerPrivKey),
			issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(-time.Hour))))
		r.NoError(err)

		serialized, err := token.Serialize(false)
		r.NoError(err)

		claims, err := ParseIssuance(serialized, WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidJWT)
	})
}

func TestParseKeyBinding(t *testing.T) {
	r := require.New(t)

	keys := generateTestKeys(t)
	combinedFormatForIssuance := keys.issueAddressSDJWT(t)
	nonce := uuid.New().String()

	t.Run("error - key binding required but absent", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(err)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithKeyBindingRequired(true))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrKeyBindingPolicyViolation)
	})

	t.Run("error - key binding forbidden but present", func(t *testing.T) {
		presentation := keys.presentAll(t, combinedFormatForIssuance, nonce)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithKeyBindingPolicy(KeyBindingMustNotBePresent))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrKeyBindingPolicyViolation)
	})

	t.Run("error - custom policy predicate rejects", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(err)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithKeyBindingPolicyFn(func(keyBindingPresent bool) error {
				if !keyBindingPresent {
					return errors.New("this verifier wants proof of possession")
				}

				return nil
			}))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrKeyBindingPolicyViolation)
	})

	t.Run("error - key binding signed with the wrong holder key", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		rogueKeys := generateTestKeys(t)

		presentation, err := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures,
			holder.WithHolderVerification(&holder.BindingInfo{
				Payload: holder.BindingPayload{Nonce: nonce, Audience: testAudience,
					IssuedAt: jwt.NewNumericDate(time.Now())},
				Signer: afgjwt.NewEd25519Signer(rogueKeys.holderPrivKey),
			}))
		r.NoError(err)

		claims, err := Parse(presentation, WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidKeyBindingSignature)
	})

	t.Run("error - wrong nonce", func(t *testing.T) {
		presentation := keys.presentAll(t, combinedFormatForIssuance, nonce)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithExpectedNonceForKeyBinding("different-nonce"))
		r.Error(err)
		r.Nil(claims)
		r.Contains(err.Error(), "nonce")
	})

	t.Run("error - wrong audience", func(t *testing.T) {
		presentation := keys.presentAll(t, combinedFormatForIssuance, nonce)

		claims, err := Parse(presentation,
			WithSignatureVerifier(keys.issuerVerifier(t)),
			WithExpectedAudienceForKeyBinding("https://other-verifier.example.com"))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrAudienceMismatch)
	})

	t.Run("error - sd_hash does not cover the actual presentation", func(t *testing.T) {
		presentation := keys.presentAll(t, combinedFormatForIssuance, nonce)

		// dropping a disclosure after signing changes the prefix the sd_hash covers
		cfp, err := common.ParseCombinedFormatForPresentation(presentation)
		r.NoError(err)

		tampered := common.CombinedFormatForPresentation{
			SDJWT:         cfp.SDJWT,
			Disclosures:   cfp.Disclosures[:len(cfp.Disclosures)-1],
			KeyBindingJWT: cfp.KeyBindingJWT,
		}

		claims, err := Parse(tampered.Serialize(), WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrSDHashMismatch)
	})

	t.Run("error - missing sd_hash claim", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		// hand-rolled key binding JWT without sd_hash
		kbJWT, err := afgjwt.NewSigned(map[string]interface{}{"nonce": nonce, "aud": testAudience},
			map[string]interface{}{"typ": common.TypeKeyBindingJWT},
			afgjwt.NewEd25519Signer(keys.holderPrivKey))
		r.NoError(err)

		kbSerialized, err := kbJWT.Serialize(false)
		r.NoError(err)

		cfp := common.CombinedFormatForPresentation{
			SDJWT:         cfi.SDJWT,
			Disclosures:   cfi.Disclosures,
			KeyBindingJWT: kbSerialized,
		}

		claims, err := Parse(cfp.Serialize(), WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrMissingRequiredDigest)
	})

	t.Run("error - wrong typ header", func(t *testing.T) {
		cfi, err := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		r.NoError(err)

		kbJWT, err := afgjwt.NewSigned(map[string]interface{}{"nonce": nonce},
			map[string]interface{}{"typ": "JWT"},
			afgjwt.NewEd25519Signer(keys.holderPrivKey))
		r.NoError(err)

		kbSerialized, err := kbJWT.Serialize(false)
		r.NoError(err)

		cfp := common.CombinedFormatForPresentation{
			SDJWT:         cfi.SDJWT,
			Disclosures:   cfi.Disclosures,
			KeyBindingJWT: kbSerialized,
		}

		claims, err := Parse(cfp.Serialize(), WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidKeyBindingSignature)
	})
}

func TestParseIssuance(t *testing.T) {
	r := require.New(t)

	keys := generateTestKeys(t)
	combinedFormatForIssuance := keys.issueAddressSDJWT(t)

	t.Run("success", func(t *testing.T) {
		claims, err := ParseIssuance(combinedFormatForIssuance, WithSignatureVerifier(keys.issuerVerifier(t)))
		r.NoError(err)

		address, ok := claims["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("DE", address["country"])
	})

	t.Run("error - missing trailing separator", func(t *testing.T) {
		claims, err := ParseIssuance(strings.TrimSuffix(combinedFormatForIssuance, common.CombinedFormatSeparator),
			WithSignatureVerifier(keys.issuerVerifier(t)))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrMalformedSerialization)
	})
}

func TestParseIssuanceWithResolvedKeys(t *testing.T) {
	r := require.New(t)

	signingPubKey, signingPrivKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	jwks := gojose.JSONWebKeySet{Keys: []gojose.JSONWebKey{
		{Key: signingPubKey, KeyID: "key-1", Algorithm: "EdDSA"},
		{Key: otherPubKey, KeyID: "key-2", Algorithm: "EdDSA"},
	}}

	var issuerURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwt-vc-issuer", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer": issuerURL,
			"jwks":   jwks,
		}))
	})

	server := httptest.NewTLSServer(mux)
	defer server.Close()

	issuerURL = server.URL

	issueWithKID := func(kid string) string {
		spec, specErr := issuer.NewSpecBuilder().Disclosable("given_name", "John").Build()
		require.NoError(t, specErr)

		token, issueErr := issuer.New(issuerURL, spec, jose.Headers{jose.HeaderKeyID: kid},
			afgjwt.NewEd25519Signer(signingPrivKey))
		require.NoError(t, issueErr)

		cfi, serErr := token.Serialize(false)
		require.NoError(t, serErr)

		return cfi
	}

	// resolveVerifier walks the key-source chain a verifier without pre-shared keys would:
	// read iss and kid off the token, resolve the issuer's keys, and build a signature
	// verifier from the selected key.
	resolveVerifier := func(combinedFormatForIssuance string) (*afgjwt.JoseEd25519Verifier, error) {
		cfi, parseErr := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
		require.NoError(t, parseErr)

		signedJWT, _, parseErr := afgjwt.Parse(cfi.SDJWT,
			afgjwt.WithSignatureVerifier(&holder.NoopSignatureVerifier{}))
		require.NoError(t, parseErr)

		iss, _ := signedJWT.Payload["iss"].(string)
		kid, _ := signedJWT.Headers.KeyID()

		keys, resolveErr := resolver.New(resolver.WithHTTPClient(server.Client())).
			ResolveKeys(context.Background(), resolver.Classify(iss, kid))
		if resolveErr != nil {
			return nil, resolveErr
		}

		pubKey, ok := keys[0].Key.(ed25519.PublicKey)
		require.True(t, ok)

		return afgjwt.NewEd25519Verifier(pubKey)
	}

	t.Run("success - kid selects the signing key", func(t *testing.T) {
		cfi := issueWithKID("key-1")

		verifier, err := resolveVerifier(cfi)
		r.NoError(err)

		claims, err := ParseIssuance(cfi, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.Equal("John", claims["given_name"])
	})

	t.Run("error - kid selects a key the token was not signed with", func(t *testing.T) {
		cfi := issueWithKID("key-2")

		verifier, err := resolveVerifier(cfi)
		r.NoError(err)

		claims, err := ParseIssuance(cfi, WithSignatureVerifier(verifier))
		r.Error(err)
		r.Nil(claims)
		r.ErrorIs(err, common.ErrInvalidJWT)
	})

	t.Run("error - kid names a nonexistent key", func(t *testing.T) {
		cfi := issueWithKID("key-9")

		verifier, err := resolveVerifier(cfi)
		r.Error(err)
		r.Nil(verifier)
		r.ErrorIs(err, common.ErrKeyNotFound)
	})
}

func findDisclosure(t *testing.T, disclosures []string, name string) string {
	t.Helper()

	claims, err := common.GetDisclosureClaims(disclosures, crypto.SHA256)
	require.NoError(t, err)

	for i, claim := range claims {
		if claim.Name == name {
			return disclosures[i]
		}
	}

	t.Fatalf("disclosure %q not found", name)

	return ""
}
