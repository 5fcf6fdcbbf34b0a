package preset

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/chainio/signer"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

const (
	SchemeTyped   = config.SigningTyped
	SchemeMessage = config.SigningMessage
)

// Signed is a signature together with the digest the wallet was asked to
// sign, so it can be checked against the final operation.
type Signed struct {
	Signature []byte
	Scheme    string
	Digest    common.Hash
	// UserOpHash is the canonical hash at signing time.
	UserOpHash common.Hash
}

// SigningStrategy picks the signature form the account validates. In auto
// mode typed data is only requested from accounts that accept it, and a
// wallet that cannot sign typed data falls back to the message form.
type SigningStrategy struct {
	Scheme  string
	logger  logger.Logger
	metrics metrics.MetricsGenerator
}

func NewSigningStrategy(scheme string, log logger.Logger, m metrics.MetricsGenerator) SigningStrategy {
	if scheme == "" {
		scheme = config.SigningAuto
	}
	return SigningStrategy{Scheme: scheme, logger: logger.EnsureLogger(log), metrics: metrics.Ensure(m)}
}

func (s SigningStrategy) Sign(ctx context.Context, wallet signer.Wallet, impl aa.Implementation, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (*Signed, error) {
	switch s.Scheme {
	case config.SigningTyped:
		return s.signTyped(ctx, wallet, op, entryPoint, chainID)
	case config.SigningMessage:
		return s.signMessage(ctx, wallet, impl, op, entryPoint, chainID)
	}

	if !impl.AcceptsTypedData() {
		return s.signMessage(ctx, wallet, impl, op, entryPoint, chainID)
	}
	signed, err := s.signTyped(ctx, wallet, op, entryPoint, chainID)
	if err == nil {
		return signed, nil
	}
	code := apperr.CodeOf(err)
	if code != apperr.CodeUnsupportedMethod && code != apperr.CodeUserRejected {
		return nil, err
	}

	s.logger.Warn("typed data signing unavailable, signing the userop hash as a message",
		"wallet", wallet.Address(), "reason", code)
	s.metrics.IncFallback("signing")
	return s.signMessage(ctx, wallet, impl, op, entryPoint, chainID)
}

func (s SigningStrategy) signTyped(ctx context.Context, wallet signer.Wallet, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (*Signed, error) {
	digest, err := op.TypedDataHash(entryPoint, chainID)
	if err != nil {
		return nil, apperr.Wallet(apperr.CodeUnsupportedMethod, "userop typed data could not be encoded", err)
	}
	sig, err := wallet.SignTypedData(ctx, op.TypedData(entryPoint, chainID))
	if err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	s.metrics.IncSigningScheme(SchemeTyped)
	return &Signed{Signature: sig, Scheme: SchemeTyped, Digest: digest, UserOpHash: op.Hash(entryPoint, chainID)}, nil
}

func (s SigningStrategy) signMessage(ctx context.Context, wallet signer.Wallet, impl aa.Implementation, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) (*Signed, error) {
	hash := op.Hash(entryPoint, chainID)
	sig, err := wallet.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	s.metrics.IncSigningScheme(SchemeMessage)
	return &Signed{Signature: sig, Scheme: SchemeMessage, Digest: impl.SignatureDigest(hash), UserOpHash: hash}, nil
}

// VerifySignature recomputes the canonical hash and the scheme digest from
// the final op and checks both against what was signed, then recovers the
// signer under the rule the account's validateUserOp applies. Any failure
// guarantees rejection at the entry point.
func VerifySignature(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int, signed *Signed, owner common.Address, impl aa.Implementation) error {
	hash := op.Hash(entryPoint, chainID)
	if hash != signed.UserOpHash {
		return apperr.HashMismatch(apperr.CodeDigestMismatch,
			fmt.Sprintf("userop hash changed after signing: signed %s, final %s", signed.UserOpHash.Hex(), hash.Hex()))
	}

	var digest common.Hash
	switch signed.Scheme {
	case SchemeTyped:
		if !impl.AcceptsTypedData() {
			return apperr.HashMismatch(apperr.CodeSignerMismatch,
				fmt.Sprintf("%s only validates signatures over %s, not typed data", impl.Name(), impl.SignatureDigest(hash).Hex())).
				WithDetail("account_digest", impl.SignatureDigest(hash).Hex())
		}
		d, err := op.TypedDataHash(entryPoint, chainID)
		if err != nil {
			return apperr.HashMismatch(apperr.CodeDigestMismatch, "typed data digest could not be recomputed: "+err.Error())
		}
		digest = d
	case SchemeMessage:
		digest = impl.SignatureDigest(hash)
	default:
		return apperr.HashMismatch(apperr.CodeDigestMismatch, "unknown signing scheme "+signed.Scheme)
	}
	if digest != signed.Digest {
		return apperr.HashMismatch(apperr.CodeDigestMismatch,
			fmt.Sprintf("%s digest mismatch: signed %s, recomputed %s", signed.Scheme, signed.Digest.Hex(), digest.Hex()))
	}

	if !bytes.Equal(op.Signature, signed.Signature) {
		return apperr.HashMismatch(apperr.CodeSignerMismatch, "op carries a different signature than the wallet returned")
	}
	recovered, err := signer.RecoverSigner(digest, op.Signature)
	if err != nil {
		return apperr.HashMismatch(apperr.CodeSignerMismatch, "signature does not recover: "+err.Error())
	}
	if recovered != owner {
		return apperr.HashMismatch(apperr.CodeSignerMismatch,
			fmt.Sprintf("signature recovers to %s, expected owner %s", recovered.Hex(), owner.Hex()))
	}
	return nil
}
