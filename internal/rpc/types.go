package rpc

import (
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Wallet error codes. error.data carries the precise kind.
const (
	CodeNotFound          = -32000
	CodeValidation        = -32001
	CodeUnsupportedExport = -32002
	CodeInsufficientFunds = -32003
	CodeEstimationFailed  = -32004
	CodeSigningFailed     = -32005
	CodeBroadcastRejected = -32006
	CodeUnavailable       = -32007
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorData is the data member of a wallet error.
type ErrorData struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

var kindCodes = map[walleterr.Kind]int{
	walleterr.KindValidation:        CodeValidation,
	walleterr.KindInvalidMnemonic:   CodeValidation,
	walleterr.KindInvalidPrivateKey: CodeValidation,
	walleterr.KindUnsupportedExport: CodeUnsupportedExport,
	walleterr.KindInsufficientFunds: CodeInsufficientFunds,
	walleterr.KindEstimationFailed:  CodeEstimationFailed,
	walleterr.KindSigningFailed:     CodeSigningFailed,
	walleterr.KindBroadcastRejected: CodeBroadcastRejected,
	walleterr.KindUnavailable:       CodeUnavailable,
	walleterr.KindNotFound:          CodeNotFound,
	walleterr.KindInternal:          CodeInternalError,
}

// CodeFor returns the JSON-RPC code of an error kind.
func CodeFor(kind walleterr.Kind) int {
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	return CodeInternalError
}

// toError converts an engine error to its wire form. Internal errors do
// not leak their cause.
func toError(err error) *Error {
	kind := walleterr.KindOf(err)
	reason := walleterr.ReasonOf(err)
	if kind == walleterr.KindInternal {
		reason = "internal error"
	}
	return &Error{
		Code:    CodeFor(kind),
		Message: reason,
		Data:    ErrorData{Kind: string(kind), Reason: reason},
	}
}
