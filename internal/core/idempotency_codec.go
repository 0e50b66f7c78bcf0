package core

import (
	"encoding/json"

	"github.com/chatgpt-bridge/bridge/internal/idempotency"
)

func encodeIdempotentEntry(result CompletionResult) (idempotency.Entry, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return idempotency.Entry{}, err
	}
	return idempotency.Entry{StatusCode: 200, Body: body}, nil
}

func decodeIdempotentEntry(entry idempotency.Entry, out *CompletionResult) error {
	return json.Unmarshal(entry.Body, out)
}
