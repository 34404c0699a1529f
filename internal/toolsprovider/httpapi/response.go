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

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kestrelai/kestrel/pkg/kerrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("httpapi: failed to encode response body", "error", err)
	}
}

// writeError translates err into the wire status/kind pair kerrors defines
// (spec §7), falling back to a bare 500 for anything uncategorized.
func writeError(w http.ResponseWriter, err error) {
	var ke *kerrors.Error
	if !errors.As(err, &ke) {
		ke = kerrors.Wrap(kerrors.KindUnknown, "internal error", err)
	}
	writeJSON(w, ke.HTTPStatus(), map[string]any{
		"error":   string(ke.Kind),
		"message": ke.Message,
		"details": ke.Details,
	})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return kerrors.Wrap(kerrors.KindValidation, "malformed request body", err)
	}
	return nil
}
