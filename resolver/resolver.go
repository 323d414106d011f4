/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package resolver locates the public keys an SD-JWT issuer signs with, from the iss claim and
the optional kid header. HTTPS issuers are resolved through the /.well-known/jwt-vc-issuer
metadata document; DID issuers are delegated to a caller-supplied DID resolver.
*/
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/trustbloc/sdjwt-go/common"
)

const wellKnownPath = "/.well-known/jwt-vc-issuer"

var logger = logrus.WithField("component", "issuer-key-resolver") // nolint:gochecknoglobals

// KeySourceKind tags a KeySource variant.
type KeySourceKind int

const (
	// KeySourceUnsupported marks an issuer identifier that is neither an HTTPS URL nor a DID.
	KeySourceUnsupported = KeySourceKind(iota)
	// KeySourceMetadata resolves keys through the issuer metadata endpoint.
	KeySourceMetadata
	// KeySourceDIDURL resolves keys through a DID resolver.
	KeySourceDIDURL
)

// KeySource identifies where the issuer's signing keys live.
type KeySource struct {
	Kind   KeySourceKind
	Issuer string
	KeyID  string
}

// Classify inspects the iss claim and kid header and decides how the issuer's keys
// are to be located. Classification never fails; resolving an unsupported source does.
func Classify(issuer, keyID string) KeySource {
	ks := KeySource{Issuer: issuer, KeyID: keyID}

	switch {
	case strings.HasPrefix(issuer, "did:"):
		ks.Kind = KeySourceDIDURL
	case strings.HasPrefix(issuer, "https://"):
		ks.Kind = KeySourceMetadata
	default:
		ks.Kind = KeySourceUnsupported
	}

	return ks
}

// DIDResolver resolves a DID to the verification keys of its document.
type DIDResolver func(ctx context.Context, did string) ([]gojose.JSONWebKey, error)

// Resolver resolves issuer signing keys.
type Resolver struct {
	client      *http.Client
	didResolver DIDResolver
}

// Opt is a resolver option.
type Opt func(r *Resolver)

// WithHTTPClient option is for custom HTTP client.
func WithHTTPClient(client *http.Client) Opt {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithDIDResolver option supplies the resolver used for DID issuers.
func WithDIDResolver(didResolver DIDResolver) Opt {
	return func(r *Resolver) {
		r.didResolver = didResolver
	}
}

// New creates a new issuer key resolver.
func New(opts ...Opt) *Resolver {
	r := &Resolver{
		client: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveKeys locates the candidate signing keys for the key source. With a kid, exactly the
// key carrying that kid is returned; without one, the source must hold exactly one key.
func (r *Resolver) ResolveKeys(ctx context.Context, ks KeySource) ([]gojose.JSONWebKey, error) {
	switch ks.Kind {
	case KeySourceMetadata:
		return r.resolveFromMetadata(ctx, ks)
	case KeySourceDIDURL:
		return r.resolveFromDID(ctx, ks)
	default:
		return nil, fmt.Errorf("%w: issuer '%s' is neither an HTTPS URL nor a DID",
			common.ErrUnsupportedIssuerFormat, ks.Issuer)
	}
}

// issuerMetadata is the /.well-known/jwt-vc-issuer response document.
type issuerMetadata struct {
	Issuer  string                `json:"issuer"`
	JWKS    *gojose.JSONWebKeySet `json:"jwks,omitempty"`
	JWKSURI string                `json:"jwks_uri,omitempty"`
}

func (r *Resolver) resolveFromMetadata(ctx context.Context, ks KeySource) ([]gojose.JSONWebKey, error) {
	metadataURL, err := metadataURL(ks.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedIssuerFormat, err.Error())
	}

	logger.WithField("url", metadataURL).Debug("fetching issuer metadata")

	body, err := r.get(ctx, metadataURL)
	if err != nil {
		return nil, err
	}

	var metadata issuerMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, errors.Wrap(err, "unmarshal issuer metadata")
	}

	// The metadata must echo the issuer it was fetched for, else a different issuer's keys
	// could be served from a shared host.
	if metadata.Issuer != ks.Issuer {
		return nil, fmt.Errorf("%w: metadata issuer '%s' does not match '%s'",
			common.ErrKeyNotFound, metadata.Issuer, ks.Issuer)
	}

	jwks := metadata.JWKS

	if jwks == nil && metadata.JWKSURI != "" {
		jwks, err = r.getJWKS(ctx, metadata.JWKSURI)
		if err != nil {
			return nil, err
		}
	}

	if jwks == nil {
		return nil, fmt.Errorf("%w: metadata for '%s' carries no keys", common.ErrKeyNotFound, ks.Issuer)
	}

	return selectKeys(jwks.Keys, ks.KeyID)
}

func (r *Resolver) resolveFromDID(ctx context.Context, ks KeySource) ([]gojose.JSONWebKey, error) {
	if r.didResolver == nil {
		return nil, fmt.Errorf("%w: no DID resolver configured for issuer '%s'",
			common.ErrUnsupportedIssuerFormat, ks.Issuer)
	}

	// An absolute kid must be a DID URL within the issuer's document.
	if ks.KeyID != "" && strings.Contains(ks.KeyID, ":") && !strings.HasPrefix(ks.KeyID, ks.Issuer+"#") {
		return nil, fmt.Errorf("%w: kid '%s' does not belong to issuer '%s'",
			common.ErrUnsupportedIssuerFormat, ks.KeyID, ks.Issuer)
	}

	logger.WithField("did", ks.Issuer).Debug("resolving issuer DID")

	keys, err := r.didResolver(ctx, ks.Issuer)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve DID '%s'", ks.Issuer)
	}

	keyID := strings.TrimPrefix(ks.KeyID, ks.Issuer)

	return selectKeys(keys, keyID)
}

// selectKeys applies the kid selection rule: with a kid, exactly one key must carry it;
// without one, the set must hold exactly one key.
func selectKeys(keys []gojose.JSONWebKey, keyID string) ([]gojose.JSONWebKey, error) {
	if keyID == "" {
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: key set is empty", common.ErrKeyNotFound)
		}

		if len(keys) > 1 {
			return nil, fmt.Errorf("%w: %d candidate keys and no kid to select by",
				common.ErrAmbiguousKey, len(keys))
		}

		return keys, nil
	}

	var selected []gojose.JSONWebKey

	for _, key := range keys {
		if key.KeyID == keyID || "#"+key.KeyID == keyID || key.KeyID == "#"+keyID {
			selected = append(selected, key)
		}
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no key with kid '%s'", common.ErrKeyNotFound, keyID)
	}

	if len(selected) > 1 {
		return nil, fmt.Errorf("%w: %d keys with kid '%s'", common.ErrAmbiguousKey, len(selected), keyID)
	}

	return selected, nil
}

func (r *Resolver) getJWKS(ctx context.Context, jwksURI string) (*gojose.JSONWebKeySet, error) {
	logger.WithField("url", jwksURI).Debug("fetching JWK set")

	body, err := r.get(ctx, jwksURI)
	if err != nil {
		return nil, err
	}

	var jwks gojose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, errors.Wrap(err, "unmarshal JWK set")
	}

	return &jwks, nil
}

func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %s", common.ErrNetworkFailure, rawURL, err.Error())
	}

	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			logger.WithError(errClose).Error("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", common.ErrNetworkFailure, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response from %s: %s", common.ErrNetworkFailure, rawURL, err.Error())
	}

	return body, nil
}

// metadataURL builds the issuer metadata URL: the well-known path is inserted between the
// authority and any issuer path component.
func metadataURL(issuer string) (string, error) {
	parsed, err := url.Parse(issuer)
	if err != nil {
		return "", err
	}

	if parsed.Scheme != "https" {
		return "", fmt.Errorf("issuer '%s' is not an https URL", issuer)
	}

	path := strings.TrimSuffix(parsed.Path, "/")
	parsed.Path = wellKnownPath + path

	return parsed.String(), nil
}
