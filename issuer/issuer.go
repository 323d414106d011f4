/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuer enables the Issuer: An entity that creates SD-JWTs.

An SD-JWT is a digitally signed document containing digests over the claims
(per claim: a random salt, the claim name and the claim value).
It MAY further contain clear-text claims that are always disclosed to the Verifier.
It MUST be digitally signed using the Issuer's private key.

	SD-JWT-DOC = (METADATA, SD-CLAIMS, NON-SD-CLAIMS)
	SD-JWT = SD-JWT-DOC | SIG(SD-JWT-DOC, ISSUER-PRIV-KEY)

SD-CLAIMS is an array of digest values that ensure the integrity of
and map to the respective Disclosures. Digest values are calculated
over the Disclosures, each of which contains the claim name (CLAIM-NAME),
the claim value (CLAIM-VALUE), and a random salt (SALT).

The Issuer further creates a set of Disclosures for all hidden claims in the
SD-JWT. The Disclosures are sent to the Holder together with the SD-JWT in the
Combined Format for Issuance.
*/
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
	jsonutil "github.com/trustbloc/sdjwt-go/util/json"
)

const (
	defaultHash = crypto.SHA256

	defaultSaltSize = 128 / 8

	decoyMinElements = 1
	decoyMaxElements = 4
)

var mr = mathrand.New(mathrand.NewSource(time.Now().Unix())) // nolint:gochecknoglobals

// Claims defines JSON Web Token Claims (https://tools.ietf.org/html/rfc7519#section-4)
type Claims jwt.Claims

// newOpts holds options for creating new SD-JWT.
type newOpts struct {
	Subject  string
	Audience string
	JTI      string
	ID       string

	Expiry    *jwt.NumericDate
	NotBefore *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	HolderPublicKey *gojose.JSONWebKey

	HashAlg crypto.Hash

	jsonMarshal func(v interface{}) ([]byte, error)
	getSalt     func() (string, error)

	addDecoyDigests bool
	decoyMin        int
	decoyMax        int

	structuredClaims  bool
	nonSDClaimsMap    map[string]bool
	recursiveClaimMap map[string]bool
}

// NewOpt is the SD-JWT New option.
type NewOpt func(opts *newOpts)

// WithJSONMarshaller is option is for marshalling disclosure.
func WithJSONMarshaller(jsonMarshal func(v interface{}) ([]byte, error)) NewOpt {
	return func(opts *newOpts) {
		opts.jsonMarshal = jsonMarshal
	}
}

// WithSaltFnc is an option for generating salt. Mostly used for testing.
// A new salt MUST be chosen for each claim independently of other salts.
// The RECOMMENDED minimum length of the randomly-generated portion of the salt is 128 bits.
// It is RECOMMENDED to base64url-encode the salt value, producing a string.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithAudience is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithAudience(audience string) NewOpt {
	return func(opts *newOpts) {
		opts.Audience = audience
	}
}

// WithExpiry is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithNotBefore is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithNotBefore(notBefore *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.NotBefore = notBefore
	}
}

// WithSubject is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey is an option for SD-JWT payload.
// The Holder can prove legitimate possession of an SD-JWT by proving control over the same private key during
// the issuance and presentation. An SD-JWT with Key Binding contains a public key, or a reference to a public key,
// that matches the private key controlled by the Holder.
// The "cnf" claim value MUST represent only a single proof-of-possession key. This implementation is using CNF "jwk".
func WithHolderPublicKey(key *gojose.JSONWebKey) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = key
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithDecoyDigests is an option for adding decoy digests (default is false).
// The number of decoys per level is picked randomly between 1 and 4.
func WithDecoyDigests(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.addDecoyDigests = flag
		opts.decoyMin = decoyMinElements
		opts.decoyMax = decoyMaxElements
	}
}

// WithDecoyDigestsCount is an option for adding exactly n decoy digests per level.
func WithDecoyDigestsCount(n int) NewOpt {
	return func(opts *newOpts) {
		opts.addDecoyDigests = n > 0
		opts.decoyMin = n
		opts.decoyMax = n
	}
}

// WithDecoyDigestsRange is an option for adding between min and max decoy digests per level.
func WithDecoyDigestsRange(min, max int) NewOpt {
	return func(opts *newOpts) {
		opts.addDecoyDigests = max > 0
		opts.decoyMin = min
		opts.decoyMax = max
	}
}

// New creates a new signed Selective Disclosure JWT from a claim specification.
//
// For each selectively disclosable claim the Issuer creates a Disclosure: an array of three
// elements, in this order: a unique salt, the claim name and the claim value (for hidden array
// elements: two elements, salt and value). The array is JSON-encoded and the byte representation
// of the UTF-8 string is base64url-encoded to create the Disclosure. The digest of the Disclosure
// is embedded in the signed document instead of the claim itself.
//
// The returned token holds the signed JWT and all created Disclosures in declaration order.
func New(issuer string, spec *ClaimSpec, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := prepareOpts(opts)

	disclosures, digests, err := createDisclosuresAndDigests(spec.Entries(), nOpts)
	if err != nil {
		return nil, err
	}

	payload, err := jsonutil.MergeCustomFields(createPayload(issuer, nOpts), digests)
	if err != nil {
		return nil, fmt.Errorf("failed to merge payload and digests: %w", err)
	}

	signedJWT, err := afgjwt.NewSigned(payload, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrSigningFailed, err.Error())
	}

	var disArr []string
	for _, d := range disclosures {
		disArr = append(disArr, d.Result)
	}

	return &SelectiveDisclosureJWT{Disclosures: disArr, SignedJWT: signedJWT}, nil
}

func prepareOpts(opts []NewOpt) *newOpts {
	nOpts := &newOpts{
		jsonMarshal:    json.Marshal,
		HashAlg:        defaultHash,
		nonSDClaimsMap: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	if nOpts.getSalt == nil {
		nOpts.getSalt = generateSalt
	}

	return nOpts
}

func createPayload(issuer string, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = make(map[string]interface{})
		cnf["jwk"] = nOpts.HolderPublicKey
	}

	return &payload{
		Issuer:    issuer,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		Subject:   nOpts.Subject,
		Audience:  nOpts.Audience,
		IssuedAt:  nOpts.IssuedAt,
		Expiry:    nOpts.Expiry,
		NotBefore: nOpts.NotBefore,
		CNF:       cnf,
		SDAlg:     common.FormatSDAlg(nOpts.HashAlg),
	}
}

// DisclosureEntity represents a disclosure with the data used to create it.
type DisclosureEntity struct {
	Result      string
	Salt        string
	Key         string
	Value       interface{}
	DebugDigest string
}

// createDisclosuresAndDigests walks the claim specification bottom-up (children before parents)
// and returns the created disclosures in pre-order declaration order together with the
// disclosed document for this level.
func createDisclosuresAndDigests(entries []*ClaimEntry, opts *newOpts) ([]*DisclosureEntity, map[string]interface{}, error) { // nolint:funlen,gocyclo,lll
	var disclosures []*DisclosureEntity

	var levelDisclosures []*DisclosureEntity

	digestsMap := make(map[string]interface{})

	for _, entry := range entries {
		switch entry.Kind {
		case ClaimKindPlain:
			digestsMap[entry.Name] = entry.Value
		case ClaimKindSelectivelyDisclosable:
			disclosure, err := createDisclosure(entry.Name, entry.Value, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("create disclosure: %w", err)
			}

			disclosures = append(disclosures, disclosure)
			levelDisclosures = append(levelDisclosures, disclosure)
		case ClaimKindStructured:
			nestedDisclosures, nestedDigestsMap, err := createDisclosuresAndDigests(entry.Children, opts)
			if err != nil {
				return nil, nil, err
			}

			digestsMap[entry.Name] = nestedDigestsMap

			disclosures = append(disclosures, nestedDisclosures...)
		case ClaimKindRecursive:
			nestedDisclosures, nestedDigestsMap, err := createDisclosuresAndDigests(entry.Children, opts)
			if err != nil {
				return nil, nil, err
			}

			// The partially-disclosed sub-object becomes the payload of one new disclosure
			// keyed by the claim's own name; the key disappears from the parent.
			disclosure, err := createDisclosure(entry.Name, nestedDigestsMap, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("create disclosure: %w", err)
			}

			disclosures = append(disclosures, disclosure)
			disclosures = append(disclosures, nestedDisclosures...)
			levelDisclosures = append(levelDisclosures, disclosure)
		case ClaimKindArray, ClaimKindRecursiveArray:
			arrayValue, elementDisclosures, err := createArrayElements(entry.Elements, opts)
			if err != nil {
				return nil, nil, err
			}

			if entry.Kind == ClaimKindArray {
				digestsMap[entry.Name] = arrayValue

				disclosures = append(disclosures, elementDisclosures...)

				continue
			}

			disclosure, err := createDisclosure(entry.Name, arrayValue, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("create disclosure: %w", err)
			}

			disclosures = append(disclosures, disclosure)
			disclosures = append(disclosures, elementDisclosures...)
			levelDisclosures = append(levelDisclosures, disclosure)
		}
	}

	decoyDigests, err := createDecoyDigests(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create decoy digests: %w", err)
	}

	digests, err := createDigests(levelDisclosures, opts)
	if err != nil {
		return nil, nil, err
	}

	digests = append(digests, decoyDigests...)

	if len(digests) > 0 {
		mr.Shuffle(len(digests), func(i, j int) {
			digests[i], digests[j] = digests[j], digests[i]
		})

		digestsMap[common.SDKey] = digests
	}

	return disclosures, digestsMap, nil
}

func createArrayElements(elements []*ArrayElementSpec, opts *newOpts) ([]interface{}, []*DisclosureEntity, error) {
	arrayValue := make([]interface{}, 0, len(elements))

	var elementDisclosures []*DisclosureEntity

	for _, element := range elements {
		if element.Kind == ArrayElementKindPlain {
			arrayValue = append(arrayValue, element.Value)

			continue
		}

		disclosure, err := createDisclosure("", element.Value, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create array element disclosure: %w", err)
		}

		digest, err := createDigest(disclosure, opts)
		if err != nil {
			return nil, nil, err
		}

		arrayValue = append(arrayValue, map[string]interface{}{common.ArrayElementDigestKey: digest})

		elementDisclosures = append(elementDisclosures, disclosure)
	}

	return arrayValue, elementDisclosures, nil
}

// createDisclosure builds the wire form of a disclosure: base64url(JSON([salt, key, value])),
// or base64url(JSON([salt, value])) for array elements (empty key).
func createDisclosure(key string, value interface{}, opts *newOpts) (*DisclosureEntity, error) {
	salt, err := opts.getSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	disclosure := []interface{}{salt}
	if key != "" {
		disclosure = append(disclosure, key)
	}

	disclosure = append(disclosure, value)

	disclosureBytes, err := opts.jsonMarshal(disclosure)
	if err != nil {
		return nil, fmt.Errorf("marshal disclosure: %w", err)
	}

	return &DisclosureEntity{
		Result: base64.RawURLEncoding.EncodeToString(disclosureBytes),
		Salt:   salt,
		Key:    key,
		Value:  value,
	}, nil
}

func createDigests(disclosures []*DisclosureEntity, opts *newOpts) ([]string, error) {
	var digests []string

	for _, disclosure := range disclosures {
		digest, inErr := createDigest(disclosure, opts)
		if inErr != nil {
			return nil, fmt.Errorf("hash disclosure: %w", inErr)
		}

		digests = append(digests, digest)
	}

	return digests, nil
}

func createDigest(disclosure *DisclosureEntity, opts *newOpts) (string, error) {
	digest, inErr := common.GetHash(opts.HashAlg, disclosure.Result)
	if inErr != nil {
		return "", fmt.Errorf("hash disclosure: %w", inErr)
	}

	disclosure.DebugDigest = digest

	return digest, nil
}

// createDecoyDigests hashes syntactically valid but unlinked disclosure-shaped strings.
// The corresponding fake disclosures are discarded, so decoys are indistinguishable in
// format from real digests and never appear in the disclosure list.
func createDecoyDigests(opts *newOpts) ([]string, error) {
	if !opts.addDecoyDigests {
		return nil, nil
	}

	n := opts.decoyMin
	if opts.decoyMax > opts.decoyMin {
		n += mr.Intn(opts.decoyMax - opts.decoyMin + 1)
	}

	var digests []string

	for i := 0; i < n; i++ {
		salt, err := opts.getSalt()
		if err != nil {
			return nil, err
		}

		fake, err := createDisclosure("", salt, opts)
		if err != nil {
			return nil, err
		}

		digest, err := createDigest(fake, opts)
		if err != nil {
			return nil, err
		}

		digests = append(digests, digest)
	}

	return digests, nil
}

// SelectiveDisclosureJWT defines Selective Disclosure JSON Web Token (https://tools.ietf.org/html/rfc7519)
type SelectiveDisclosureJWT struct {
	SignedJWT   *afgjwt.JSONWebToken
	Disclosures []string
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize makes (compact) serialization of token into combined format for issuance.
func (j *SelectiveDisclosureJWT) Serialize(detached bool) (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize(detached)
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT:       signedJWT,
		Disclosures: j.Disclosures,
	}

	return cf.Serialize(), nil
}

func generateSalt() (string, error) {
	salt := make([]byte, defaultSaltSize)

	_, err := rand.Read(salt)
	if err != nil {
		return "", err
	}

	// it is RECOMMENDED to base64url-encode the salt value, producing a string.
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents SD-JWT payload.
type payload struct {
	// registered claim names
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  string           `json:"aud,omitempty"`
	JTI       string           `json:"jti,omitempty"`
	Expiry    *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`

	// non-registered name that can be used for claims based holder binding
	ID string `json:"id,omitempty"`

	// SD-JWT specific
	CNF   map[string]interface{} `json:"cnf,omitempty"`
	SDAlg string                 `json:"_sd_alg,omitempty"`
}
