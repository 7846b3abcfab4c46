package webhooks

import (
	"encoding/json"
)

// unmarshalBody decodes the telephony provider's payload without
// rejecting unknown fields; the provider adds fields between releases
// without notice. Required fields are still enforced by struct
// validation afterwards.
func unmarshalBody(body []byte, dest any) error {
	return json.Unmarshal(body, dest)
}
