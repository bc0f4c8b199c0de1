// SPDX-License-Identifier: BSD-3-Clause

package control

import "encoding/json"

func jsonBool(raw json.RawMessage, out *bool) bool {
	return json.Unmarshal(raw, out) == nil
}

func jsonString(raw json.RawMessage, out *string) bool {
	return json.Unmarshal(raw, out) == nil
}
