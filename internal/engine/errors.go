package engine

import (
	"context"
	"errors"
	"net"

	"github.com/aishah914/smolpc-gimp/internal/errinfo"
	"github.com/aishah914/smolpc-gimp/internal/llm"
	"github.com/aishah914/smolpc-gimp/internal/toolworker"
)

// mapWorkerError turns a toolworker error into the UI error payload.
func mapWorkerError(subphase, toolName string, err error) *errinfo.ErrorInfo {
	var (
		spawnErr  *toolworker.SpawnError
		initErr   *toolworker.InitializeError
		remoteErr *toolworker.RemoteError
		protoErr  *toolworker.ProtocolError
		writeErr  *toolworker.WriteError
	)
	switch {
	case errors.Is(err, toolworker.ErrLockPoisoned):
		return errinfo.WorkerLockPoisoned(err.Error())
	case errors.Is(err, toolworker.ErrTimeout):
		return errinfo.WorkerTimeout(subphase, err.Error())
	case errors.Is(err, context.Canceled):
		return errinfo.UserCanceled(errinfo.PhaseWorker, err.Error())
	case errors.As(err, &spawnErr):
		return errinfo.WorkerSpawnFailed(err.Error())
	case errors.As(err, &initErr):
		code := 0
		if initErr.Remote != nil {
			code = initErr.Remote.Code
		}
		return errinfo.WorkerInitializeFailed(code, err.Error())
	case errors.As(err, &remoteErr):
		return errinfo.WorkerRemoteError(subphase, toolName, remoteErr.Payload.Code, err.Error())
	case errors.As(err, &protoErr):
		return errinfo.WorkerProtocolError(subphase, err.Error())
	case errors.As(err, &writeErr),
		errors.Is(err, toolworker.ErrConnectionClosed),
		errors.Is(err, toolworker.ErrClosed):
		return errinfo.WorkerConnectionClosed(subphase, err.Error())
	default:
		return errinfo.WorkerProtocolError(subphase, err.Error())
	}
}

func mapLLMError(phase, modelID string, err error) *errinfo.ErrorInfo {
	var info *errinfo.ErrorInfo
	var netErr net.Error
	switch {
	case errors.Is(err, llm.ErrEgressBlocked):
		info = errinfo.NetworkUnavailable(phase, "model endpoint is not a local address")
	case errors.Is(err, llm.ErrModelNotFound):
		info = errinfo.ProviderUnavailable(phase, err.Error())
		info.Actions = []string{errinfo.ActionOpenSettings}
	case errors.Is(err, context.Canceled):
		info = errinfo.UserCanceled(phase, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		info = errinfo.NetworkUnavailable(phase, err.Error())
	case errors.As(err, &netErr):
		info = errinfo.NetworkUnavailable(phase, err.Error())
	default:
		info = errinfo.ProviderUnavailable(phase, err.Error())
	}
	info.ModelID = modelID
	return info
}
