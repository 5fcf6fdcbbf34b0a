package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

var _ rpc.Error = codedError{}

func TestErrorMatchingByKindAndCode(t *testing.T) {
	err := fmt.Errorf("stake failed: %w", Validation(CodeBelowMinimum, "amount below minimum"))

	assert.True(t, errors.Is(err, &Error{Kind: KindValidation}))
	assert.True(t, errors.Is(err, &Error{Kind: KindValidation, Code: CodeBelowMinimum}))
	assert.False(t, errors.Is(err, &Error{Kind: KindValidation, Code: CodeNoRewards}))
	assert.False(t, errors.Is(err, &Error{Kind: KindWallet}))

	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, CodeBelowMinimum, CodeOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, Validation(CodeNoStake, "x").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, Wallet(CodeUserRejected, "x", nil).HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Network(CodeTimeout, "x", nil).HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, Bundler(CodeBadNonce, "x", nil).HTTPStatus())
	assert.Equal(t, http.StatusFailedDependency, Deployment(CodeFactoryInvalid, "x", nil).HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, HashMismatch(CodeDigestMismatch, "x").HTTPStatus())
	assert.Equal(t, http.StatusNotFound, Validation(CodeNotFound, "x").HTTPStatus())
}

func TestClassifyStructuredCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code string
	}{
		{"user rejected", codedError{4001, "nope"}, KindWallet, CodeUserRejected},
		{"unauthorized", codedError{4100, "nope"}, KindWallet, CodeUnauthorized},
		{"unsupported", codedError{4200, "nope"}, KindWallet, CodeUnsupportedMethod},
		{"method not found", codedError{-32601, "the method eth_signTypedData_v4 does not exist"}, KindWallet, CodeUnsupportedMethod},
		{"unknown chain", codedError{4902, "unrecognized chain"}, KindWallet, CodeUnknownChain},
		{"internal with rejection text", codedError{-32603, "User denied message signature"}, KindWallet, CodeUserRejected},
		{"internal", codedError{-32603, "boom"}, KindNetwork, CodeRPCFailure},
		{"wrapped", fmt.Errorf("sign: %w", codedError{4001, "nope"}), KindWallet, CodeUserRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify(tt.err, KindNetwork)
			require.NotNil(t, e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.code, e.Code)
			assert.ErrorIs(t, e, tt.err)
		})
	}
}

func TestClassifyFallsBackToMessage(t *testing.T) {
	tests := []struct {
		msg  string
		kind Kind
		code string
	}{
		{"MetaMask Tx Signature: User denied transaction signature.", KindWallet, CodeUserRejected},
		{"eth_signTypedData_v4 is not supported", KindWallet, CodeUnsupportedMethod},
		{"dial tcp 127.0.0.1:8545: connect: connection refused", KindNetwork, CodeUnreachable},
		{"request timed out after 30s", KindNetwork, CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			e := Classify(errors.New(tt.msg), KindBundler)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.code, e.Code)
		})
	}
}

func TestClassifyKeepsExistingAndUsesFallback(t *testing.T) {
	orig := Deployment(CodeFactoryInvalid, "no code at factory", nil)
	assert.Same(t, orig, Classify(fmt.Errorf("wrap: %w", orig), KindNetwork))

	e := Classify(errors.New("something odd"), KindBundler)
	assert.Equal(t, KindBundler, e.Kind)
	assert.Equal(t, "something odd", e.Message)

	assert.Nil(t, Classify(nil, KindNetwork))

	deadline := Classify(context.DeadlineExceeded, KindBundler)
	assert.Equal(t, KindNetwork, deadline.Kind)
	assert.Equal(t, CodeTimeout, deadline.Code)
	assert.True(t, deadline.Retryable)

	httpErr := Classify(rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, KindBundler)
	assert.Equal(t, KindNetwork, httpErr.Kind)
	assert.Equal(t, CodeUnreachable, httpErr.Code)
}
