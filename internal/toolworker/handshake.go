package toolworker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aishah914/smolpc-gimp/internal/jsonrpc"
	"github.com/aishah914/smolpc-gimp/internal/mcp"
)

// ensureInitialized runs initialize followed by notifications/initialized the
// first time it is called. A rejected or broken handshake is remembered and
// returned to every later caller. Cancellation and deadlines are local and leave
// it retryable; the late reply to the abandoned id is discarded as stale.
func (c *Conn) ensureInitialized(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if c.initErr != nil {
		return c.initErr
	}
	raw, err := c.roundTrip(ctx, string(mcp.InitializeMethod), c.hello)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
			c.logger.Warn("toolworker.initialize_interrupted", "error", err.Error())
			return err
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			payload := remote.Payload
			c.initErr = &InitializeError{Remote: &payload}
		} else {
			c.initErr = &InitializeError{Err: err}
		}
		c.logger.Error("toolworker.initialize_failed", "error", c.initErr.Error())
		return c.initErr
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("toolworker.initialize_result_invalid", "error", err.Error())
	} else {
		c.server = &result
		if result.ProtocolVersion != "" && result.ProtocolVersion != c.hello.ProtocolVersion {
			c.logger.Warn("toolworker.protocol_version_mismatch", "requested", c.hello.ProtocolVersion, "server", result.ProtocolVersion)
		}
	}

	if err := c.tr.Send(jsonrpc.NewNotification(string(mcp.InitializedNotificationMethod), nil)); err != nil {
		c.initErr = &InitializeError{Err: err}
		c.logger.Error("toolworker.initialize_failed", "error", c.initErr.Error())
		return c.initErr
	}
	c.initialized = true
	c.logger.Info("toolworker.initialized",
		"server", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return nil
}
