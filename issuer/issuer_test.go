/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/require"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
)

const (
	testIssuer = "https://issuer.example.com"
)

func TestNew(t *testing.T) {
	r := require.New(t)

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afgjwt.NewEd25519Signer(privKey)

	t.Run("success - flat claims", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Disclosable("given_name", "John").
			Disclosable("family_name", "Doe").
			Plain("updated_at", 1570000000).
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)
		r.Len(token.Disclosures, 2)

		var payload map[string]interface{}
		r.NoError(token.DecodeClaims(&payload))

		r.Equal(testIssuer, payload["iss"])
		r.Equal("sha-256", payload[common.SDAlgorithmKey])
		r.NotContains(payload, "given_name")
		r.NotContains(payload, "family_name")
		r.Contains(payload, "updated_at")

		sd, ok := payload[common.SDKey].([]interface{})
		r.True(ok)
		r.Len(sd, 2)

		verifyRoundTrip(t, token, map[string]interface{}{
			"given_name":  "John",
			"family_name": "Doe",
		})
	})

	t.Run("success - serialization ends with separator", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)

		serialized, err := token.Serialize(false)
		r.NoError(err)

		r.True(strings.HasSuffix(serialized, common.CombinedFormatSeparator))
		r.Equal(2, strings.Count(serialized, common.CombinedFormatSeparator))
	})

	t.Run("success - structured claims keep the object key visible", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Structured("address", func(address *SpecBuilder) {
				address.Disclosable("street_address", "Schulstr. 12").
					Disclosable("locality", "Schulpforta").
					Disclosable("region", "Sachsen-Anhalt").
					Disclosable("country", "DE")
			}).
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)
		r.Len(token.Disclosures, 4)

		address, ok := token.SignedJWT.Payload["address"].(map[string]interface{})
		r.True(ok)
		r.Contains(address, common.SDKey)
		r.NotContains(token.SignedJWT.Payload, common.SDKey)

		verifyRoundTrip(t, token, map[string]interface{}{
			"address": map[string]interface{}{
				"street_address": "Schulstr. 12",
				"locality":       "Schulpforta",
				"region":         "Sachsen-Anhalt",
				"country":        "DE",
			},
		})
	})

	t.Run("success - recursive claims hide the object key", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Recursive("address", func(address *SpecBuilder) {
				address.Disclosable("street_address", "Schulstr. 12").
					Disclosable("country", "DE")
			}).
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)
		// one disclosure for the object itself plus one per nested claim
		r.Len(token.Disclosures, 3)

		r.NotContains(token.SignedJWT.Payload, "address")

		sd, ok := token.SignedJWT.Payload[common.SDKey].([]string)
		r.True(ok)
		r.Len(sd, 1)

		// the object's own disclosure precedes its children's
		objectClaim, err := common.GetDisclosureClaim(token.Disclosures[0], defaultHash)
		r.NoError(err)
		r.Equal("address", objectClaim.Name)
		r.Equal(common.DisclosureClaimTypeObject, objectClaim.Type)

		verifyRoundTrip(t, token, map[string]interface{}{
			"address": map[string]interface{}{
				"street_address": "Schulstr. 12",
				"country":        "DE",
			},
		})
	})

	t.Run("success - array claims hide individual elements", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Array("nationalities", func(nationalities *ArrayBuilder) {
				nationalities.Plain("DE").
					Disclosable("FR").
					Disclosable("US")
			}).
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)
		r.Len(token.Disclosures, 2)

		nationalities, ok := token.SignedJWT.Payload["nationalities"].([]interface{})
		r.True(ok)
		r.Len(nationalities, 3)
		r.Equal("DE", nationalities[0])

		hidden, ok := nationalities[1].(map[string]interface{})
		r.True(ok)
		r.Contains(hidden, common.ArrayElementDigestKey)

		verifyRoundTrip(t, token, map[string]interface{}{
			"nationalities": []interface{}{"DE", "FR", "US"},
		})
	})

	t.Run("success - recursive array hides the array key as well", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			RecursiveArray("nationalities", func(nationalities *ArrayBuilder) {
				nationalities.Disclosable("FR")
			}).
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer)
		r.NoError(err)
		r.Len(token.Disclosures, 2)

		r.NotContains(token.SignedJWT.Payload, "nationalities")

		verifyRoundTrip(t, token, map[string]interface{}{
			"nationalities": []interface{}{"FR"},
		})
	})

	t.Run("success - decoy digests are added but invisible after disclosure", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Disclosable("given_name", "John").
			Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer, WithDecoyDigestsCount(3))
		r.NoError(err)
		r.Len(token.Disclosures, 1)

		sd, ok := token.SignedJWT.Payload[common.SDKey].([]string)
		r.True(ok)
		r.Len(sd, 4)

		verifyRoundTrip(t, token, map[string]interface{}{
			"given_name": "John",
		})
	})

	t.Run("success - holder public key lands in cnf", func(t *testing.T) {
		holderPublicKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer,
			WithHolderPublicKey(&gojose.JSONWebKey{Key: holderPublicKey}))
		r.NoError(err)

		cnf, err := common.GetCNF(token.SignedJWT.Payload)
		r.NoError(err)
		r.Contains(cnf, "jwk")
	})

	t.Run("success - registered claims stay in clear text", func(t *testing.T) {
		now := time.Now()

		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer,
			WithSubject("subject"),
			WithAudience("audience"),
			WithJTI("jti"),
			WithID("id"),
			WithIssuedAt(jwt.NewNumericDate(now)),
			WithNotBefore(jwt.NewNumericDate(now)),
			WithExpiry(jwt.NewNumericDate(now.Add(time.Hour))))
		r.NoError(err)

		payload := token.SignedJWT.Payload
		r.Equal("subject", payload["sub"])
		r.Equal("audience", payload["aud"])
		r.Equal("jti", payload["jti"])
		r.Equal("id", payload["id"])
		r.Contains(payload, "iat")
		r.Contains(payload, "nbf")
		r.Contains(payload, "exp")
	})

	t.Run("error - reserved claim name", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable(common.SDKey, "value").Build()
		r.Error(err)
		r.Nil(spec)
		r.ErrorIs(err, common.ErrReservedClaimName)
	})

	t.Run("error - empty claim name", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable("", "value").Build()
		r.Error(err)
		r.Nil(spec)
		r.Contains(err.Error(), "claim name cannot be empty")
	})

	t.Run("error - duplicate claim name", func(t *testing.T) {
		spec, err := NewSpecBuilder().
			Disclosable("given_name", "John").
			Plain("given_name", "Jane").
			Build()
		r.Error(err)
		r.Nil(spec)
		r.Contains(err.Error(), "duplicate claim name")
	})

	t.Run("error - signer failure", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, &failingSigner{})
		r.Error(err)
		r.Nil(token)
		r.ErrorIs(err, common.ErrSigningFailed)
	})

	t.Run("error - salt function failure", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer,
			WithSaltFnc(func() (string, error) {
				return "", errors.New("salt exhausted")
			}))
		r.Error(err)
		r.Nil(token)
		r.Contains(err.Error(), "salt exhausted")
	})

	t.Run("error - marshaller failure", func(t *testing.T) {
		spec, err := NewSpecBuilder().Disclosable("given_name", "John").Build()
		r.NoError(err)

		token, err := New(testIssuer, spec, nil, signer,
			WithJSONMarshaller(func(v interface{}) ([]byte, error) {
				return nil, errors.New("marshal error")
			}))
		r.Error(err)
		r.Nil(token)
		r.Contains(err.Error(), "marshal error")
	})
}

func TestNewFromClaims(t *testing.T) {
	r := require.New(t)

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afgjwt.NewEd25519Signer(privKey)

	claims := map[string]interface{}{
		"given_name": "John",
		"address": map[string]interface{}{
			"street_address": "Schulstr. 12",
			"country":        "DE",
		},
	}

	t.Run("success - default hides whole values", func(t *testing.T) {
		token, err := NewFromClaims(testIssuer, claims, nil, signer)
		r.NoError(err)
		r.Len(token.Disclosures, 2)

		// sorted key order: address before given_name
		first, err := common.GetDisclosureClaim(token.Disclosures[0], defaultHash)
		r.NoError(err)
		r.Equal("address", first.Name)

		verifyRoundTrip(t, token, claims)
	})

	t.Run("success - structured claims", func(t *testing.T) {
		token, err := NewFromClaims(testIssuer, claims, nil, signer, WithStructuredClaims(true))
		r.NoError(err)
		r.Len(token.Disclosures, 3)

		address, ok := token.SignedJWT.Payload["address"].(map[string]interface{})
		r.True(ok)
		r.Contains(address, common.SDKey)

		verifyRoundTrip(t, token, claims)
	})

	t.Run("success - recursive claim objects", func(t *testing.T) {
		token, err := NewFromClaims(testIssuer, claims, nil, signer,
			WithRecursiveClaimsObjects([]string{"address"}))
		r.NoError(err)
		r.Len(token.Disclosures, 4)

		r.NotContains(token.SignedJWT.Payload, "address")

		verifyRoundTrip(t, token, claims)
	})

	t.Run("success - non-selectively disclosable claims", func(t *testing.T) {
		token, err := NewFromClaims(testIssuer, claims, nil, signer,
			WithNonSelectivelyDisclosableClaims([]string{"given_name", "address.country"}),
			WithStructuredClaims(true))
		r.NoError(err)
		r.Len(token.Disclosures, 1)

		r.Equal("John", token.SignedJWT.Payload["given_name"])

		address, ok := token.SignedJWT.Payload["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("DE", address["country"])

		verifyRoundTrip(t, token, claims)
	})

	t.Run("error - reserved claim name", func(t *testing.T) {
		token, err := NewFromClaims(testIssuer, map[string]interface{}{common.SDAlgorithmKey: "x"}, nil, signer)
		r.Error(err)
		r.Nil(token)
		r.ErrorIs(err, common.ErrReservedClaimName)
	})
}

func TestGenerateSalt(t *testing.T) {
	r := require.New(t)

	salt1, err := generateSalt()
	r.NoError(err)
	r.NotEmpty(salt1)

	salt2, err := generateSalt()
	r.NoError(err)

	r.NotEqual(salt1, salt2)
}

// verifyRoundTrip serializes the token, re-parses it and checks that disclosing everything
// recreates the expected claims.
func verifyRoundTrip(t *testing.T, token *SelectiveDisclosureJWT, expected map[string]interface{}) {
	t.Helper()

	r := require.New(t)

	serialized, err := token.Serialize(false)
	r.NoError(err)

	cfi, err := common.ParseCombinedFormatForIssuance(serialized)
	r.NoError(err)

	signedJWT, _, err := afgjwt.Parse(cfi.SDJWT, afgjwt.WithSignatureVerifier(noopVerifier{}))
	r.NoError(err)

	r.NoError(common.VerifyDisclosuresInSDJWT(cfi.Disclosures, signedJWT))

	disclosed, err := common.GetDisclosedClaimsFromDisclosures(cfi.Disclosures, signedJWT.Payload)
	r.NoError(err)

	for name, value := range expected {
		r.Contains(disclosed, name)

		if array, ok := value.([]interface{}); ok {
			r.ElementsMatch(array, disclosed[name])

			continue
		}

		r.EqualValues(value, disclosed[name])
	}
}

type noopVerifier struct{}

func (noopVerifier) Verify(_ jose.Headers, _, _, _ []byte) error {
	return nil
}

type failingSigner struct{}

func (failingSigner) Sign(_ []byte) ([]byte, error) {
	return nil, errors.New("signing key unavailable")
}

func (failingSigner) Headers() jose.Headers {
	return map[string]interface{}{jose.HeaderAlgorithm: "EdDSA"}
}
