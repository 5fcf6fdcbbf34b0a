// Package preset is the canonical UserOp pipeline: it turns a list of calls
// into a signed operation, submits it once and follows it to a receipt.
package preset

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/chainio/signer"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/pkg/eip1559"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// Bundler is the part of bundler.BundlerClient the pipeline drives.
type Bundler interface {
	GasEstimator
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, policy chainio.PollPolicy) (*bundler.UserOpReceipt, bool, error)
}

type Options struct {
	Client     chainio.Client
	Bundler    Bundler
	EntryPoint common.Address
	ChainID    *big.Int

	Fees          eip1559.Policy
	Gas           GasStrategy
	SigningScheme string
	Poll          chainio.PollPolicy
	// GasReserve is kept aside for gas when checking value-bearing calls.
	GasReserve *big.Int

	Nonces  *NonceManager
	Logger  logger.Logger
	Metrics metrics.MetricsGenerator
}

// OptionsFromConfig fills the policy knobs from cfg.
func OptionsFromConfig(cfg *config.Config, client chainio.Client, b Bundler) Options {
	return Options{
		Client:     client,
		Bundler:    b,
		EntryPoint: cfg.EntryPoint,
		ChainID:    cfg.Chain.ChainID(),
		Fees:       eip1559.NewPolicy(cfg.Fee.MultiplierPercent, cfg.Fee.PriorityFee),
		Gas: GasStrategy{
			Fallback: GasLimits{
				CallGasLimit:         cfg.Gas.CallGasLimit,
				VerificationGasLimit: cfg.Gas.VerificationGasLimit,
				PreVerificationGas:   cfg.Gas.PreVerificationGas,
			},
			MarginPercent: cfg.Gas.MarginPercent,
		},
		SigningScheme: cfg.SigningScheme,
		Poll:          chainio.PollPolicy{Interval: cfg.Poll.Interval, Attempts: cfg.Poll.Attempts},
		GasReserve:    cfg.Gas.Reserve,
		Logger:        cfg.Logger,
	}
}

type Builder struct {
	client     chainio.Client
	bundler    Bundler
	entryPoint *aa.EntryPoint
	chainID    *big.Int

	fees    eip1559.Policy
	gas     GasStrategy
	nonces  *NonceStrategy
	signing SigningStrategy
	poll    chainio.PollPolicy
	reserve *big.Int

	logger  logger.Logger
	metrics metrics.MetricsGenerator
}

func NewBuilder(opts Options) *Builder {
	log := logger.EnsureLogger(opts.Logger)
	m := metrics.Ensure(opts.Metrics)
	ep := aa.NewEntryPoint(opts.EntryPoint, opts.Client)

	poll := opts.Poll
	if poll.Attempts == 0 {
		poll = chainio.DefaultPollPolicy
	}
	reserve := opts.GasReserve
	if reserve == nil {
		reserve = new(big.Int)
	}

	return &Builder{
		client:     opts.Client,
		bundler:    opts.Bundler,
		entryPoint: ep,
		chainID:    new(big.Int).Set(opts.ChainID),
		fees:       opts.Fees,
		gas:        opts.Gas,
		nonces:     NewNonceStrategy(ep, opts.Client, opts.Nonces, log, m),
		signing:    NewSigningStrategy(opts.SigningScheme, log, m),
		poll:       poll,
		reserve:    reserve,
		logger:     log,
		metrics:    m,
	}
}

func (b *Builder) EntryPoint() common.Address {
	return b.entryPoint.Address()
}

func (b *Builder) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// Request is one intent: calls the account makes on behalf of its owner.
type Request struct {
	// Operation labels metrics, e.g. "stake".
	Operation string
	Handle    *aa.SmartAccountHandle
	Wallet    signer.Wallet
	Calls     []aa.Call
	Observer  Observer
}

// Result describes where an intent ended. TxHash is only set once the
// bundler reports a receipt.
type Result struct {
	State      State
	UserOp     *userop.UserOperation
	UserOpHash common.Hash
	TxHash     common.Hash
	Pending    bool
	Receipt    *bundler.UserOpReceipt

	Scheme      string
	NonceSource NonceSource
	GasSource   GasSource
	Transitions []Transition
}

// Build runs the whole intent: build, estimate, sign, submit once, poll. An
// error means the intent ended FAILED before a receipt; a receipt with
// success=false is returned as a FAILED result without error.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	tracker := NewTracker(req.Observer)
	result, err := b.run(ctx, req, tracker, true)
	if err != nil {
		tracker.Fail(err)
		b.metrics.IncIntent(req.label(), string(StateFailed))
		return nil, err
	}
	result.Transitions = tracker.History()
	b.metrics.IncIntent(req.label(), string(result.State))
	return result, nil
}

// DryRun builds and signs without submitting.
func (b *Builder) DryRun(ctx context.Context, req Request) (*Result, error) {
	tracker := NewTracker(req.Observer)
	result, err := b.run(ctx, req, tracker, false)
	if err != nil {
		return nil, err
	}
	result.Transitions = tracker.History()
	return result, nil
}

func (b *Builder) run(ctx context.Context, req Request, tracker *Tracker, submit bool) (*Result, error) {
	handle := req.Handle
	if handle == nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "no smart account")
	}
	if handle.Degraded() {
		return nil, apperr.Deployment(apperr.CodeDegradedMode, "degraded accounts cannot build user operations", nil)
	}
	if req.Wallet == nil {
		return nil, apperr.Wallet(apperr.CodeWalletUnavailable, "no wallet connected", nil)
	}
	if req.Wallet.Address() != handle.Owner {
		return nil, apperr.Wallet(apperr.CodeOwnerMismatch,
			fmt.Sprintf("wallet %s does not own account %s", req.Wallet.Address().Hex(), handle.Address.Hex()), nil)
	}

	result := &Result{}
	op, nonceSource, err := b.assemble(ctx, handle, req.Calls)
	if err != nil {
		return nil, err
	}
	result.NonceSource = nonceSource

	if err := tracker.Advance(StateEstimating); err != nil {
		return nil, err
	}
	result.GasSource = b.estimateGas(ctx, handle, op)

	if err := tracker.Advance(StateSigning); err != nil {
		return nil, err
	}
	if err := b.verifyOwner(ctx, handle, op); err != nil {
		return nil, err
	}
	signed, err := b.signing.Sign(ctx, req.Wallet, handle.Implementation, op, b.entryPoint.Address(), b.chainID)
	if err != nil {
		return nil, err
	}
	op.Signature = signed.Signature
	if err := VerifySignature(op, b.entryPoint.Address(), b.chainID, signed, handle.Owner, handle.Implementation); err != nil {
		b.logger.Error("signed userop does not verify against its canonical hash",
			"sender", op.Sender, "scheme", signed.Scheme, "error", err)
		return nil, err
	}

	result.UserOp = op
	result.UserOpHash = signed.UserOpHash
	result.Scheme = signed.Scheme
	result.State = StateSigning
	tracker.SetUserOpHash(signed.UserOpHash)
	if !submit {
		return result, nil
	}

	if err := tracker.Advance(StateSubmitting); err != nil {
		return nil, err
	}
	opHash, err := b.bundler.SendUserOperation(ctx, op, b.entryPoint.Address())
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeBadNonce {
			b.nonces.Manager().Reset(op.Sender)
		}
		b.logger.Warn("bundler rejected userop", "sender", op.Sender, "nonce", op.Nonce, "error", err)
		return nil, err
	}
	b.nonces.Manager().Submitted(op.Sender, op.Nonce)
	if opHash != signed.UserOpHash {
		b.logger.Error("bundler reported a different userop hash than the one signed",
			"signed", signed.UserOpHash, "bundler", opHash)
		return nil, apperr.HashMismatch(apperr.CodeDigestMismatch,
			fmt.Sprintf("bundler computed userop hash %s, signed %s", opHash.Hex(), signed.UserOpHash.Hex())).
			WithDetail("signed_hash", signed.UserOpHash.Hex()).
			WithDetail("bundler_hash", opHash.Hex())
	}
	result.UserOpHash = opHash
	tracker.SetUserOpHash(opHash)
	b.logger.Info("userop submitted", "userOpHash", opHash, "sender", op.Sender, "nonce", op.Nonce, "scheme", signed.Scheme)

	if err := tracker.Advance(StatePending); err != nil {
		return nil, err
	}
	b.follow(ctx, tracker, result)
	return result, nil
}

// assemble fills everything but gas and signature.
func (b *Builder) assemble(ctx context.Context, handle *aa.SmartAccountHandle, calls []aa.Call) (*userop.UserOperation, NonceSource, error) {
	if err := b.checkFunds(ctx, handle.Address, calls); err != nil {
		return nil, "", err
	}

	callData, err := aa.EncodeCalls(handle.Implementation, calls)
	if err != nil {
		return nil, "", apperr.Validation(apperr.CodeInvalidInput, err.Error())
	}

	nonce, source, err := b.nonces.Next(ctx, handle.Address)
	if err != nil {
		return nil, "", err
	}

	maxFee, priority, err := b.fees.SuggestFee(ctx, b.client)
	if err != nil {
		return nil, "", chainio.Wrap(err, "suggest fees")
	}

	factory, factoryData, err := handle.DeploymentCallData(ctx, b.client)
	if err != nil {
		return nil, "", err
	}

	op := &userop.UserOperation{
		Sender:               handle.Address,
		Nonce:                nonce,
		Factory:              factory,
		FactoryData:          factoryData,
		CallData:             callData,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priority,
	}
	return op, source, nil
}

// checkFunds rejects value-bearing intents the account cannot pay for. It is
// the first network call of an intent.
func (b *Builder) checkFunds(ctx context.Context, account common.Address, calls []aa.Call) error {
	value := totalValue(calls)
	if value.Sign() == 0 {
		return nil
	}
	balance, err := b.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return chainio.Wrap(err, "read account balance")
	}
	required := new(big.Int).Add(value, b.reserve)
	if balance.Cmp(required) < 0 {
		return apperr.Validationf(apperr.CodeInsufficientFunds,
			"account %s holds %s wei, needs %s wei (value plus gas reserve)", account.Hex(), balance, required).
			WithDetail("balance", balance.String()).
			WithDetail("required", required.String())
	}
	return nil
}

func (b *Builder) estimateGas(ctx context.Context, handle *aa.SmartAccountHandle, op *userop.UserOperation) GasSource {
	source, err := b.gas.estimate(ctx, b.bundler, op, b.entryPoint.Address(), handle.Implementation.DummySignature())
	if err != nil {
		b.logger.Warn("bundler gas estimate failed, using fallback limits",
			"sender", op.Sender, "callGasLimit", op.CallGasLimit, "verificationGasLimit", op.VerificationGasLimit,
			"preVerificationGas", op.PreVerificationGas, "error", err)
		b.metrics.IncFallback("gas")
	}
	return source
}

// verifyOwner compares the on-chain owner with the account's expected owner.
// Undeployed accounts have no owner yet; a failed read is not fatal.
func (b *Builder) verifyOwner(ctx context.Context, handle *aa.SmartAccountHandle, op *userop.UserOperation) error {
	if op.Factory != nil {
		return nil
	}
	owner, err := handle.Implementation.OwnerOf(ctx, b.client, handle.Address)
	if err != nil {
		b.logger.Warn("could not read account owner, continuing", "account", handle.Address, "error", err)
		return nil
	}
	if owner != handle.Owner {
		return apperr.Wallet(apperr.CodeOwnerMismatch,
			fmt.Sprintf("account %s is owned by %s, not %s", handle.Address.Hex(), owner.Hex(), handle.Owner.Hex()), nil).
			WithDetail("onchain_owner", owner.Hex())
	}
	return nil
}

// follow polls for the receipt and records the terminal state.
func (b *Builder) follow(ctx context.Context, tracker *Tracker, result *Result) {
	receipt, pending, err := b.bundler.WaitForReceipt(ctx, result.UserOpHash, b.poll)
	if err != nil {
		b.logger.Warn("could not follow userop, leaving it pending", "userOpHash", result.UserOpHash, "error", err)
		pending = true
	}

	switch {
	case pending || receipt == nil:
		result.Pending = true
		result.State = StateTimedOut
		_ = tracker.Advance(StateTimedOut)
	case receipt.Success:
		result.Receipt = receipt
		result.TxHash = receipt.TxHash()
		result.State = StateConfirmed
		tracker.SetTxHash(result.TxHash)
		_ = tracker.Advance(StateConfirmed)
	default:
		result.Receipt = receipt
		result.TxHash = receipt.TxHash()
		result.State = StateFailed
		tracker.SetTxHash(result.TxHash)
		tracker.Fail(apperr.Bundler(apperr.CodeExecutionReverted, "userop reverted on chain", nil).
			WithDetail("reason", receipt.Reason))
	}
}

// Prepared is an unsigned operation for wallets outside this process.
type Prepared struct {
	UserOp     *userop.UserOperation `json:"userOp"`
	UserOpHash common.Hash           `json:"userOpHash"`
	// SignatureDigest is what the account recovers the owner from.
	SignatureDigest common.Hash `json:"signatureDigest"`
	// AcceptsTypedData is false for accounts that reject a signature over
	// TypedData.
	AcceptsTypedData bool               `json:"acceptsTypedData"`
	TypedData        apitypes.TypedData `json:"typedData"`
	GasSource        GasSource          `json:"gasSource"`
	Nonce            NonceSource        `json:"nonceSource"`
}

// Prepare builds and estimates an operation without a wallet. The caller
// signs UserOpHash as a personal message (or TypedData when the account
// accepts it) and submits on its own.
func (b *Builder) Prepare(ctx context.Context, handle *aa.SmartAccountHandle, calls []aa.Call) (*Prepared, error) {
	if handle == nil {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "no smart account")
	}
	if handle.Degraded() {
		return nil, apperr.Deployment(apperr.CodeDegradedMode, "degraded accounts cannot build user operations", nil)
	}
	op, nonceSource, err := b.assemble(ctx, handle, calls)
	if err != nil {
		return nil, err
	}
	gasSource := b.estimateGas(ctx, handle, op)
	op.Signature = []byte{}

	hash := op.Hash(b.entryPoint.Address(), b.chainID)
	return &Prepared{
		UserOp:           op,
		UserOpHash:       hash,
		SignatureDigest:  handle.Implementation.SignatureDigest(hash),
		AcceptsTypedData: handle.Implementation.AcceptsTypedData(),
		TypedData:        op.TypedData(b.entryPoint.Address(), b.chainID),
		GasSource:        gasSource,
		Nonce:            nonceSource,
	}, nil
}

// Resume polls an already submitted operation. It never resubmits.
func (b *Builder) Resume(ctx context.Context, opHash common.Hash) (*Result, error) {
	started := time.Now()
	receipt, pending, err := b.bundler.WaitForReceipt(ctx, opHash, b.poll)
	if err != nil {
		return nil, err
	}
	result := &Result{UserOpHash: opHash}
	switch {
	case pending || receipt == nil:
		result.State = StateTimedOut
		result.Pending = true
	case receipt.Success:
		result.State = StateConfirmed
	default:
		result.State = StateFailed
	}
	if receipt != nil {
		result.Receipt = receipt
		result.TxHash = receipt.TxHash()
	}
	b.logger.Debug("resumed userop", "userOpHash", opHash, "state", result.State, "elapsed", time.Since(started))
	return result, nil
}

func totalValue(calls []aa.Call) *big.Int {
	total := new(big.Int)
	for _, c := range calls {
		if c.Value != nil {
			total.Add(total, c.Value)
		}
	}
	return total
}

func (r Request) label() string {
	if r.Operation == "" {
		return "custom"
	}
	return r.Operation
}
