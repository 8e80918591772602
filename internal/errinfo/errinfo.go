package errinfo

// ErrorInfo is the structured error payload returned to the UI.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Subphase  string   `json:"subphase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	ModelID   string   `json:"model_id,omitempty"`
	ToolName  string   `json:"tool_name,omitempty"`
	RunID     string   `json:"run_id,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	// RemoteCode carries the JSON-RPC error code reported by the worker.
	RemoteCode int `json:"remote_code,omitempty"`
}

const (
	CodeWorkerSpawnFailed      = "WORKER_SPAWN_FAILED"
	CodeWorkerConnectionClosed = "WORKER_CONNECTION_CLOSED"
	CodeWorkerProtocolError    = "WORKER_PROTOCOL_ERROR"
	CodeWorkerInitializeFailed = "WORKER_INITIALIZE_FAILED"
	CodeWorkerRemoteError      = "WORKER_REMOTE_ERROR"
	CodeWorkerLockPoisoned     = "WORKER_LOCK_POISONED"
	CodeWorkerTimeout          = "WORKER_TIMEOUT"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeProviderUnavailable    = "PROVIDER_UNAVAILABLE"
	CodeNetworkUnavailable     = "NETWORK_UNAVAILABLE"
	CodePlanInvalid            = "PLAN_INVALID"
	CodeFileReadFailed         = "FILE_READ_FAILED"
	CodeFileWriteFailed        = "FILE_WRITE_FAILED"
	CodeUserCanceled           = "USER_CANCELED"
)

const (
	ActionRetry        = "retry"
	ActionResetWorker  = "reset_worker"
	ActionRestartApp   = "restart_app"
	ActionOpenSettings = "open_settings"
)

const (
	PhaseWorker    = "worker"
	PhaseAssistant = "assistant"
	PhaseHistory   = "history"
	PhaseSettings  = "settings"
)

const (
	SubphaseSpawn      = "spawn"
	SubphaseInitialize = "initialize"
	SubphaseListTools  = "list_tools"
	SubphaseCallTool   = "call_tool"
	SubphaseChat       = "chat"
	SubphasePlan       = "plan"
	SubphaseExecute    = "execute"
)

func WorkerSpawnFailed(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkerSpawnFailed,
		Phase:     PhaseWorker,
		Subphase:  SubphaseSpawn,
		Retryable: true,
		Actions:   []string{ActionOpenSettings, ActionRetry},
		Detail:    detail,
	}
}

func WorkerConnectionClosed(subphase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkerConnectionClosed,
		Phase:     PhaseWorker,
		Subphase:  subphase,
		Retryable: true,
		Actions:   []string{ActionResetWorker},
		Detail:    detail,
	}
}

func WorkerProtocolError(subphase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkerProtocolError,
		Phase:     PhaseWorker,
		Subphase:  subphase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func WorkerInitializeFailed(remoteCode int, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode:  CodeWorkerInitializeFailed,
		Phase:      PhaseWorker,
		Subphase:   SubphaseInitialize,
		Retryable:  false,
		Actions:    []string{ActionResetWorker},
		Detail:     detail,
		RemoteCode: remoteCode,
	}
}

// WorkerRemoteError is a JSON-RPC error answered by the worker. The connection
// remains usable so it is retryable.
func WorkerRemoteError(subphase, toolName string, remoteCode int, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode:  CodeWorkerRemoteError,
		Phase:      PhaseWorker,
		Subphase:   subphase,
		Retryable:  true,
		Actions:    []string{ActionRetry},
		ToolName:   toolName,
		Detail:     detail,
		RemoteCode: remoteCode,
	}
}

func WorkerLockPoisoned(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkerLockPoisoned,
		Phase:     PhaseWorker,
		Retryable: false,
		Actions:   []string{ActionRestartApp},
		Detail:    detail,
	}
}

func WorkerTimeout(subphase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeWorkerTimeout,
		Phase:     PhaseWorker,
		Subphase:  subphase,
		Retryable: true,
		Actions:   []string{ActionRetry, ActionResetWorker},
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func PlanInvalid(runID, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodePlanInvalid,
		Phase:     PhaseAssistant,
		Subphase:  SubphasePlan,
		Retryable: true,
		Actions:   []string{ActionRetry},
		RunID:     runID,
		Detail:    detail,
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func NetworkUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNetworkUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry, ActionOpenSettings},
		Detail:    detail,
	}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUserCanceled,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}
