package oracle

import (
	"context"
	"encoding/json"
	"hash/fnv"
)

// NewMock returns a deterministic oracle for offline runs: the score is derived from a hash
// of the prompt, so the same prompt always gets the same answer.
func NewMock() Func {
	return func(ctx context.Context, req Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(req.Prompt))
		out, err := json.Marshal(map[string]any{
			"score":    int(h.Sum32() % 11),
			"feedback": "Automatically generated feedback.",
		})
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
