package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSON adapts a typed function to a Handler. An empty payload decodes as
// the zero Req.
func JSON[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("connectivity: decode request: %w", err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("connectivity: encode response: %w", err)
		}
		return out, nil
	}
}
