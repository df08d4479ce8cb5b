package retry

import "encoding/json"

func unmarshalPayload(payload []byte, out any) error {
	return json.Unmarshal(payload, out)
}
