package llm

import "encoding/json"

func unmarshalRawJSON(raw json.RawMessage, result any) error {
	return json.Unmarshal(raw, result)
}
