/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package holder

import (
	"fmt"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/trustbloc/sdjwt-go/common"
	"github.com/trustbloc/sdjwt-go/jose"
	afgjwt "github.com/trustbloc/sdjwt-go/jwt"
)

// CreateEnvelopedPresentation wraps a serialized presentation into an enveloping JWT signed
// by the Holder. The envelope signature, audience and issuance time replace the key binding
// JWT, so the presentation MUST NOT carry one.
func CreateEnvelopedPresentation(presentation, audience string, issuedAt *jwt.NumericDate,
	headers jose.Headers, signer jose.Signer) (string, error) {
	cfp, err := common.ParseCombinedFormatForPresentation(presentation)
	if err != nil {
		return "", err
	}

	if cfp.KeyBindingJWT != "" {
		return "", fmt.Errorf("enveloped presentation cannot contain a key binding JWT")
	}

	payload := map[string]interface{}{
		common.EnvelopedSDJWTClaim: presentation,
	}

	if audience != "" {
		payload["aud"] = audience
	}

	if issuedAt != nil {
		payload["iat"] = issuedAt
	}

	envelope, err := afgjwt.NewSigned(payload, headers, signer)
	if err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrSigningFailed, err.Error())
	}

	return envelope.Serialize(false)
}
