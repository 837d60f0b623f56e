package coordinator

import (
	"context"

	"github.com/hazyhaar/a11yfix/connectivity"
)

// Message types handled by Register.
const (
	MsgGetStats      = "GET_STATS"
	MsgToggleEnabled = "TOGGLE_ENABLED"
	MsgClearLogs     = "CLEAR_LOGS"
)

type empty struct{}

// ToggleResponse is the TOGGLE_ENABLED response.
type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

// OKResponse acknowledges a message with no result.
type OKResponse struct {
	OK bool `json:"ok"`
}

// Register installs the message handlers on r.
func (c *Coordinator) Register(r *connectivity.Router) {
	r.Register(MsgGetStats, connectivity.JSON(func(context.Context, empty) (Stats, error) {
		return c.Stats(), nil
	}))
	r.Register(MsgToggleEnabled, connectivity.JSON(func(ctx context.Context, _ empty) (ToggleResponse, error) {
		on, err := c.ToggleEnabled(ctx)
		return ToggleResponse{Enabled: on}, err
	}))
	r.Register(MsgClearLogs, connectivity.JSON(func(context.Context, empty) (OKResponse, error) {
		c.ClearLogs()
		return OKResponse{OK: true}, nil
	}))
}
