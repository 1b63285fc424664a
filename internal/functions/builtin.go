package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RegisterBuiltins installs the handlers that need no external backing.
func RegisterBuiltins(r *Registry) {
	r.Register("get_time", GetTime)
}

// GetTime reports the current wall-clock time, optionally in a requested
// IANA timezone.
func GetTime(_ context.Context, args json.RawMessage) (string, error) {
	var req struct {
		Timezone string `json:"timezone"`
	}
	// Arguments were validated as JSON by the registry; tolerate shapes
	// that are not objects.
	_ = json.Unmarshal(args, &req)

	loc := time.UTC
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone: %s", req.Timezone)
		}
		loc = l
	}

	now := time.Now().In(loc)
	b, err := json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
