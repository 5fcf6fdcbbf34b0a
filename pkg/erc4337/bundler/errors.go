package bundler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/AvaProtocol/ap-staking/core/apperr"
)

// JSON-RPC codes defined for bundlers by ERC-7769.
const (
	codeInvalidSignature  = -32507
	codeExecutionReverted = -32521
)

// RPCError is the error object of a bundler JSON-RPC response.
type RPCError struct {
	Code    int         `mapstructure:"code"`
	Message string      `mapstructure:"message"`
	Data    interface{} `mapstructure:"data"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			return fmt.Sprintf("bundler error %d: %s (%s)", e.Code, e.Message, b)
		}
	}
	return fmt.Sprintf("bundler error %d: %s", e.Code, e.Message)
}

func decodeRPCError(raw map[string]interface{}) (*RPCError, error) {
	var out RPCError
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &out, nil
}

var aaCodePattern = regexp.MustCompile(`\bAA\d\d\b`)

// AACode returns the entry point revert code (AA10 to AA99) carried in the
// message or the data, or "".
func (e *RPCError) AACode() string {
	if m := aaCodePattern.FindString(e.Message); m != "" {
		return m
	}
	switch d := e.Data.(type) {
	case string:
		return aaCodePattern.FindString(d)
	case map[string]interface{}:
		for _, key := range []string{"reason", "message", "revertReason"} {
			if s, ok := d[key].(string); ok {
				if m := aaCodePattern.FindString(s); m != "" {
					return m
				}
			}
		}
	}
	return ""
}

// reasonForAACode maps entry point revert codes onto coarse reasons.
// Reference: https://docs.stackup.sh/docs/entrypoint-errors
func reasonForAACode(code string) string {
	switch code {
	case "AA10", "AA13", "AA14", "AA15", "AA20":
		return apperr.CodeInitCodeFailed
	case "AA21", "AA31", "AA51":
		return apperr.CodeInsufficientPrefund
	case "AA24", "AA34":
		return apperr.CodeBadSignature
	case "AA25":
		return apperr.CodeBadNonce
	case "AA26", "AA40", "AA41", "AA95":
		return apperr.CodeGasTooLow
	}
	return apperr.CodeRejected
}

func (e *RPCError) reason() string {
	if aa := e.AACode(); aa != "" {
		return reasonForAACode(aa)
	}
	switch e.Code {
	case codeInvalidSignature:
		return apperr.CodeBadSignature
	case codeExecutionReverted:
		return apperr.CodeExecutionReverted
	}

	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "nonce"):
		return apperr.CodeBadNonce
	case strings.Contains(msg, "prefund") || strings.Contains(msg, "insufficient funds"):
		return apperr.CodeInsufficientPrefund
	case strings.Contains(msg, "gas") && (strings.Contains(msg, "low") || strings.Contains(msg, "too little")):
		return apperr.CodeGasTooLow
	case strings.Contains(msg, "signature"):
		return apperr.CodeBadSignature
	}
	return apperr.CodeRejected
}

// Classify turns the bundler error into a typed Bundler error for method.
func (e *RPCError) Classify(method string) *apperr.Error {
	out := apperr.Bundler(e.reason(), e.Message, e).
		WithDetail("method", method).
		WithDetail("rpc_code", e.Code)
	if aa := e.AACode(); aa != "" {
		out = out.WithDetail("aa_code", aa)
	}
	return out
}
