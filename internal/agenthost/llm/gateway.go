// Copyright 2025 Kestrel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

// GatewayAuthConfig describes an OAuth2 client-credentials deployment: the
// model is hosted behind a gateway that requires a bearer token minted
// from a token endpoint rather than a static API key (spec §4.1
// supplement: "gateway deployments" as a provider_type).
type GatewayAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// GatewayHTTPClient returns an *http.Client that transparently attaches
// and refreshes a client-credentials bearer token on every request. The
// token source caches the token until shortly before expiry, so repeated
// calls don't re-authenticate per request.
func GatewayHTTPClient(ctx context.Context, cfg GatewayAuthConfig) *http.Client {
	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return ccCfg.Client(ctx)
}
