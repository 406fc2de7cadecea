package types

// ErrorCode enumerates the request-error taxonomy surfaced over HTTP.
type ErrorCode string

const (
	ErrorCodeQueueWaitingTimeout ErrorCode = "QUEUE_WAITING_TIMEOUT"
	ErrorCodeWorkerTimeout       ErrorCode = "WORKER_TIMEOUT"
	ErrorCodeOutOfMemory         ErrorCode = "OUT_OF_MEMORY"
	ErrorCodeInvalidPackage      ErrorCode = "INVALID_PACKAGE"
	ErrorCodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrorCodePackageError        ErrorCode = "PACKAGE_ERROR"
	ErrorCodeCallbackAPIError    ErrorCode = "CALLBACK_API_ERROR"
	ErrorCodeServerError         ErrorCode = "SERVER_ERROR"
)

// RequestError is the body of every non-2xx response produced by the error
// middleware. Handlers never build it themselves.
type RequestError struct {
	ErrorCode ErrorCode `json:"error_code"`
	Temporary bool      `json:"temporary"`
	Reason    string    `json:"reason,omitempty"`
}

// NotFoundStatus is the body of a 404 for a missing package or question
// state. What is "PACKAGE" or "QUESTION_STATE".
type NotFoundStatus struct {
	What string `json:"what"`
}

// ServerUsage reports the worker pool load.
type ServerUsage struct {
	RequestsInProcess int `json:"requests_in_process"`
	RequestsInQueue   int `json:"requests_in_queue"`
}

// ServerStatus is the body of GET /status.
type ServerStatus struct {
	Version         string      `json:"version"`
	AllowLMSPackages bool       `json:"allow_lms_packages"`
	MaxPackageSize  int64       `json:"max_package_size"`
	Usage           ServerUsage `json:"usage"`
}
