package models

// Code classifies the outcome of a machine operation.
type Code string

const (
	CodeOK            Code = "OK"
	CodeNotFound      Code = "NOT_FOUND"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeHardwareError Code = "HARDWARE_ERROR"
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
)

// Result is what an operation hands back to the transport layer. Machine is only
// set for OK and for BAD_REQUEST, where it is the unmutated record.
type Result struct {
	Code    Code     `json:"code"`
	Message string   `json:"message,omitempty"`
	Machine *Machine `json:"machine,omitempty"`
}

func OK(m *Machine) Result { return Result{Code: CodeOK, Machine: m} }

func NotFound(msg string) Result { return Result{Code: CodeNotFound, Message: msg} }

func BadRequest(msg string, m *Machine) Result {
	return Result{Code: CodeBadRequest, Message: msg, Machine: m}
}

func HardwareError(msg string) Result { return Result{Code: CodeHardwareError, Message: msg} }

func InternalError(msg string) Result { return Result{Code: CodeInternalError, Message: msg} }

func Unauthorized(msg string) Result { return Result{Code: CodeUnauthorized, Message: msg} }
