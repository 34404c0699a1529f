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

package auth

import "context"

// AllowAllValidator accepts every bearer token verbatim as the subject,
// for local development when NewValidatorFromConfig returns a nil
// TokenValidator (auth.enabled: false). Never construct this from
// production configuration.
type AllowAllValidator struct{}

func (AllowAllValidator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	subject := tokenString
	if subject == "" {
		subject = "anonymous"
	}
	return &Claims{Subject: subject, Raw: map[string]any{}}, nil
}

var _ TokenValidator = AllowAllValidator{}
