package response

// APIResponseCode is the business code carried in every client API envelope.
type APIResponseCode int

const (
	APIResponseCodeOK              APIResponseCode = 0
	APIResponseCodeBadRequest      APIResponseCode = 40000
	APIResponseCodeUnauthenticated APIResponseCode = 40100
	APIResponseCodeError           APIResponseCode = 50000
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:              "ok",
	APIResponseCodeBadRequest:      "invalid-argument",
	APIResponseCodeUnauthenticated: "unauthenticated",
	APIResponseCodeError:           "internal",
}

// Message returns the stable category text for code.
func (c APIResponseCode) Message() string {
	if msg, ok := codeToMsg[c]; ok {
		return msg
	}
	return codeToMsg[APIResponseCodeError]
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Success bool            `json:"success"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: APIResponseCodeOK.Message(), Success: true, Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: code.Message(), Data: data}
}
