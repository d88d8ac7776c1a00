package domain

// Result is the uniform envelope every cart and order operation returns to
// the presentation layer. Exactly one of Data or Error is set.
type Result struct {
	Success      bool           `json:"success"`
	Data         any            `json:"data"`
	Error        *string        `json:"error"`
	ErrorType    *string        `json:"error_type"`
	ErrorDetails map[string]any `json:"error_details"`
}

// NewResult builds the envelope from an operation's return values.
func NewResult(data any, err error) Result {
	if err != nil {
		return Failure(err)
	}
	return Success(data)
}

// Success wraps data in a successful envelope.
func Success(data any) Result {
	return Result{Success: true, Data: data}
}

// Failure converts err into a failed envelope with a user-presentable message.
func Failure(err error) Result {
	msg := ErrorMessage(err)
	typ := ErrorType(err)
	return Result{
		Success:      false,
		Error:        &msg,
		ErrorType:    &typ,
		ErrorDetails: ErrorDetails(err),
	}
}
