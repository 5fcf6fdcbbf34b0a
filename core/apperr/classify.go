package apperr

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Provider error codes from EIP-1193 and JSON-RPC 2.0 that we branch on.
const (
	providerUserRejected      = 4001
	providerUnauthorized      = 4100
	providerUnsupportedMethod = 4200
	providerDisconnected      = 4900
	providerChainDisconnected = 4901
	providerUnknownChain      = 4902

	rpcMethodNotFound      = -32601
	rpcMethodUnsupported   = -32004
	rpcInternalError       = -32603
	rpcResourceUnavailable = -32002
)

// Classify maps a provider or transport error onto the taxonomy. Errors that
// already carry a classification are returned as is. Structured codes are
// checked first; message heuristics are the last resort and only pick among
// the wallet and network kinds. Anything still unknown takes fallback.
func Classify(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}

	if e := classifyCode(err); e != nil {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Network(CodeTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Network(CodeTimeout, "request cancelled", err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return Network(CodeUnreachable, "endpoint returned "+httpErr.Status, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Network(CodeTimeout, "request timed out", err)
		}
		return Network(CodeUnreachable, "endpoint unreachable", err)
	}

	if e := classifyMessage(err); e != nil {
		return e
	}

	return newError(fallback, "", err.Error(), err, fallback == KindNetwork)
}

func classifyCode(err error) *Error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return nil
	}

	switch rpcErr.ErrorCode() {
	case providerUserRejected:
		return Wallet(CodeUserRejected, "request rejected in wallet", err)
	case providerUnauthorized:
		return Wallet(CodeUnauthorized, "wallet has not authorized this account", err)
	case providerUnsupportedMethod, rpcMethodNotFound, rpcMethodUnsupported:
		return Wallet(CodeUnsupportedMethod, "method not supported by provider", err)
	case providerDisconnected, providerChainDisconnected:
		return Wallet(CodeWalletUnavailable, "wallet is disconnected", err)
	case providerUnknownChain:
		return Wallet(CodeUnknownChain, "chain is not configured in wallet", err)
	case rpcResourceUnavailable:
		return Network(CodeUnreachable, "provider resource unavailable", err)
	case rpcInternalError:
		// Wallets report rejections as internal errors often enough that
		// the message is worth a look before giving up.
		if e := classifyMessage(err); e != nil {
			return e
		}
		return Network(CodeRPCFailure, "provider internal error", err)
	}
	return nil
}

var (
	rejectionHints   = []string{"user rejected", "user denied", "rejected by user", "request rejected", "user cancelled"}
	unsupportedHints = []string{"not supported", "unsupported", "method not found", "does not exist", "is not available", "not implemented"}
	unavailableHints = []string{"wallet not installed", "no wallet", "not connected", "no accounts"}
	timeoutHints     = []string{"timeout", "timed out", "deadline exceeded"}
	unreachableHints = []string{"connection refused", "no such host", "connection reset", "eof", "network is unreachable", "failed to fetch", "bad gateway", "service unavailable"}
)

func classifyMessage(err error) *Error {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, rejectionHints):
		return Wallet(CodeUserRejected, "request rejected in wallet", err)
	case containsAny(msg, unsupportedHints):
		return Wallet(CodeUnsupportedMethod, "method not supported by provider", err)
	case containsAny(msg, unavailableHints):
		return Wallet(CodeWalletUnavailable, "wallet unavailable", err)
	case containsAny(msg, timeoutHints):
		return Network(CodeTimeout, "request timed out", err)
	case containsAny(msg, unreachableHints):
		return Network(CodeUnreachable, "endpoint unreachable", err)
	}
	return nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
