package task

import "fmt"

// ErrorCode identifies a task operation failure reported to the cloud.
type ErrorCode int

const (
	CodeParamIncorrect ErrorCode = iota // ERROR.000
	CodeTaskExists                      // ERROR.001
	CodeOverLimit                       // ERROR.002
	CodeCreateFailed                    // ERROR.003
	CodeNotExist                        // ERROR.004
	CodeDeleteFailed                    // ERROR.005
	CodeQueryFailed                     // ERROR.006
)

func (c ErrorCode) String() string {
	return fmt.Sprintf("ERROR.%03d", int(c))
}

var errorMessages = map[ErrorCode]string{
	CodeParamIncorrect: "The input parameter is not correct!",
	CodeTaskExists:     "The task is already exist!",
	CodeOverLimit:      "The task number is over limit!",
	CodeCreateFailed:   "The task create failed!",
	CodeNotExist:       "The task is not exist!",
	CodeDeleteFailed:   "The task delete failed!",
	CodeQueryFailed:    "The task query failed!",
}

// Message returns the fixed reply text for the code.
func (c ErrorCode) Message() string {
	return errorMessages[c]
}

// ErrorBody is the JSON error payload returned on failed operations.
type ErrorBody struct {
	Code    string `json:"error_code"`
	Message string `json:"error_msg"`
}

// NewErrorBody builds the reply payload for a failure code.
func NewErrorBody(c ErrorCode) ErrorBody {
	return ErrorBody{Code: c.String(), Message: c.Message()}
}
