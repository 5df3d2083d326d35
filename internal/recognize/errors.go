package recognize

import "fmt"

// APIが返すエラーコード。HTTPステータスとの対応は statusForCode が持ちます。
const (
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeFileUnavailable     = "FILE_UNAVAILABLE"
	CodeDetectorUnavailable = "DETECTOR_UNAVAILABLE"
	CodeMediaRead           = "MEDIA_READ_ERROR"
	CodeMediaWrite          = "MEDIA_WRITE_ERROR"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeFileNotFound        = "FILE_NOT_FOUND"
	CodeInvalidTransition   = "INVALID_TRANSITION"
)

// Error はAPIが呼び出し元へ返すエラーです。
// Message は利用者向けのメッセージ、Err は原因となった内部エラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}
