// Package staking is the user facing facade: stake, unstake, claim and read
// a position. It validates intents before touching the network, journals
// every intent and routes it through the UserOp pipeline, or through the
// owner EOA when the account is degraded.
package staking

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/chainio/signer"
	stakingabi "github.com/AvaProtocol/ap-staking/core/chainio/staking"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
	"github.com/AvaProtocol/ap-staking/pkg/graphql"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// Session is the connected owner: the account it acts through and the
// wallet that signs for it. It is passed explicitly to every intent.
type Session struct {
	Handle *aa.SmartAccountHandle
	Wallet signer.Wallet
}

type IntentOptions struct {
	// IdempotencyKey makes a retried intent return the first outcome
	// instead of submitting again.
	IdempotencyKey string
}

// Outcome is how an intent ended. Pending means the op was accepted but no
// receipt arrived before polling stopped; it may still land.
type Outcome struct {
	IntentID    string            `json:"intent_id"`
	Operation   model.Operation   `json:"operation"`
	State       model.IntentState `json:"state"`
	UserOpHash  common.Hash       `json:"user_op_hash"`
	TxHash      common.Hash       `json:"tx_hash"`
	Pending     bool              `json:"pending"`
	ExplorerURL string            `json:"explorer_url,omitempty"`
	Degraded    bool              `json:"degraded"`
	Scheme      string            `json:"signing_scheme,omitempty"`
	// Replayed is set when the outcome came from the idempotency window.
	Replayed bool `json:"replayed,omitempty"`
}

type Deps struct {
	Config   *config.Config
	Client   chainio.Client
	Contract *stakingabi.Contract
	Resolver *aa.Resolver
	Builder  *preset.Builder

	// Optional.
	History     *graphql.Client
	Idempotency *IdempotencyStore
	Journal     *Journal
	Logger      logger.Logger
	Metrics     metrics.MetricsGenerator
}

type Service struct {
	config   *config.Config
	client   chainio.Client
	contract *stakingabi.Contract
	resolver *aa.Resolver
	builder  *preset.Builder
	history  *graphql.Client
	idem     *IdempotencyStore
	journal  *Journal

	logger  logger.Logger
	metrics metrics.MetricsGenerator
}

func NewService(d Deps) *Service {
	return &Service{
		config:   d.Config,
		client:   d.Client,
		contract: d.Contract,
		resolver: d.Resolver,
		builder:  d.Builder,
		history:  d.History,
		idem:     d.Idempotency,
		journal:  d.Journal,
		logger:   logger.EnsureLogger(d.Logger),
		metrics:  metrics.Ensure(d.Metrics),
	}
}

func (s *Service) Journal() *Journal {
	return s.journal
}

// Connect resolves the account of wallet's address into a session.
func (s *Service) Connect(ctx context.Context, wallet signer.Wallet) (*Session, error) {
	if wallet == nil {
		return nil, apperr.Wallet(apperr.CodeWalletUnavailable, "no wallet connected", nil)
	}
	chainID, err := wallet.ChainID(ctx)
	if err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	if chainID.Cmp(s.config.Chain.ChainID()) != 0 {
		return nil, apperr.Network(apperr.CodeChainMismatch,
			fmt.Sprintf("wallet is on chain %s, expected %s", chainID, s.config.Chain.ChainID()), nil)
	}
	handle, err := s.resolver.Resolve(ctx, wallet.Address())
	if err != nil {
		return nil, err
	}
	return &Session{Handle: handle, Wallet: wallet}, nil
}

// Account resolves owner without a wallet, e.g. for read only views.
func (s *Service) Account(ctx context.Context, owner common.Address) (*aa.SmartAccountHandle, error) {
	return s.resolver.Resolve(ctx, owner)
}

func (s *Service) Stake(ctx context.Context, sess *Session, amount *big.Int, opts IntentOptions) (*Outcome, error) {
	if err := s.validateStake(amount); err != nil {
		return nil, err
	}
	if err := s.checkSession(sess); err != nil {
		return nil, err
	}
	call, err := s.stakeCall(amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, sess, model.OperationStake, amount, call, opts)
}

func (s *Service) Unstake(ctx context.Context, sess *Session, amount *big.Int, opts IntentOptions) (*Outcome, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if err := s.checkSession(sess); err != nil {
		return nil, err
	}
	info, err := s.GetStakeInfo(ctx, sess.Handle.Address)
	if err != nil {
		return nil, err
	}
	if err := validateUnstake(info, amount); err != nil {
		return nil, err
	}
	call, err := s.unstakeCall(amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, sess, model.OperationUnstake, amount, call, opts)
}

func (s *Service) ClaimRewards(ctx context.Context, sess *Session, opts IntentOptions) (*Outcome, error) {
	if err := s.checkSession(sess); err != nil {
		return nil, err
	}
	info, err := s.GetStakeInfo(ctx, sess.Handle.Address)
	if err != nil {
		return nil, err
	}
	if !info.HasRewards() {
		return nil, apperr.Validation(apperr.CodeNoRewards, "there are no rewards to claim")
	}
	call, err := s.claimCall()
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, sess, model.OperationClaim, nil, call, opts)
}

// GetStakeInfo reads the position of user at the latest block.
func (s *Service) GetStakeInfo(ctx context.Context, user common.Address) (*model.StakeInfo, error) {
	return s.contract.GetStakeInfo(ctx, user)
}

// IntentCalls validates an intent for handle and returns the calls it makes,
// without submitting anything. Unstake and claim read the position.
func (s *Service) IntentCalls(ctx context.Context, handle *aa.SmartAccountHandle, op model.Operation, amount *big.Int) ([]aa.Call, error) {
	var (
		call aa.Call
		err  error
	)
	switch op {
	case model.OperationStake:
		if err := s.validateStake(amount); err != nil {
			return nil, err
		}
		call, err = s.stakeCall(amount)
	case model.OperationUnstake:
		if err := requirePositive(amount); err != nil {
			return nil, err
		}
		info, ierr := s.GetStakeInfo(ctx, handle.Address)
		if ierr != nil {
			return nil, ierr
		}
		if err := validateUnstake(info, amount); err != nil {
			return nil, err
		}
		call, err = s.unstakeCall(amount)
	case model.OperationClaim:
		info, ierr := s.GetStakeInfo(ctx, handle.Address)
		if ierr != nil {
			return nil, ierr
		}
		if !info.HasRewards() {
			return nil, apperr.Validation(apperr.CodeNoRewards, "there are no rewards to claim")
		}
		call, err = s.claimCall()
	default:
		return nil, apperr.Validationf(apperr.CodeInvalidInput, "unknown operation %q", op)
	}
	if err != nil {
		return nil, err
	}
	return []aa.Call{call}, nil
}

// Resume re-polls a submitted op and records what it finds on the intent
// that submitted it, if this journal knows it. It never resubmits.
func (s *Service) Resume(ctx context.Context, opHash common.Hash) (*Outcome, error) {
	res, err := s.builder.Resume(ctx, opHash)
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		State:      model.IntentState(res.State),
		UserOpHash: opHash,
		TxHash:     res.TxHash,
		Pending:    res.Pending,
	}
	if res.TxHash != (common.Hash{}) {
		out.ExplorerURL = s.config.Chain.TxURL(res.TxHash)
	}

	intent, err := s.journal.FindByUserOpHash(opHash)
	if err != nil {
		s.logger.Warn("cannot look up intent for userop", "userOpHash", opHash, "error", err)
		return out, nil
	}
	if intent == nil {
		return out, nil
	}
	out.IntentID = intent.ID
	out.Operation = intent.Operation
	if !res.Pending {
		if err := s.journal.Resolve(intent, res.State == preset.StateConfirmed, res.TxHash); err != nil {
			s.logger.Error("cannot journal intent resolution", "intent", intent.ID, "error", err)
		}
	}
	return out, nil
}

func (s *Service) execute(ctx context.Context, sess *Session, op model.Operation, amount *big.Int, call aa.Call, opts IntentOptions) (*Outcome, error) {
	fingerprint := Fingerprint(op, sess.Handle.Owner, amount)
	if opts.IdempotencyKey != "" && s.idem != nil {
		prior, release, err := s.idem.Begin(opts.IdempotencyKey, fingerprint)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			s.logger.Info("returning recorded outcome for idempotency key",
				"key", opts.IdempotencyKey, "intent", prior.IntentID, "state", prior.State)
			replay := *prior
			replay.Replayed = true
			return &replay, nil
		}
		defer release()
	}

	amountStr := ""
	if amount != nil {
		amountStr = amount.String()
	}
	intent := model.NewIntent(op, sess.Handle.Owner.Hex(), sess.Handle.Address.Hex(), amountStr)
	intent.IdempotencyKey = opts.IdempotencyKey
	intent.Fingerprint = fingerprint
	intent.Degraded = sess.Handle.Degraded()
	if err := s.journal.Create(intent); err != nil {
		return nil, fmt.Errorf("journal intent: %w", err)
	}
	s.logger.Info("intent created", "intent", intent.ID, "operation", op, "sender", intent.Sender, "amount", amountStr)

	var (
		out *Outcome
		err error
	)
	if sess.Handle.Degraded() {
		out, err = s.direct(ctx, sess, intent, call)
	} else {
		out, err = s.viaUserOp(ctx, sess, intent, call)
	}
	if err != nil {
		s.journal.Fail(intent, err)
		return nil, err
	}

	if opts.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.Record(opts.IdempotencyKey, fingerprint, out); err != nil {
			s.logger.Warn("cannot record idempotent outcome", "key", opts.IdempotencyKey, "error", err)
		}
	}
	return out, nil
}

func (s *Service) viaUserOp(ctx context.Context, sess *Session, intent *model.Intent, call aa.Call) (*Outcome, error) {
	res, err := s.builder.Build(ctx, preset.Request{
		Operation: string(intent.Operation),
		Handle:    sess.Handle,
		Wallet:    sess.Wallet,
		Calls:     []aa.Call{call},
		Observer:  s.journal.Observer(intent),
	})
	if err != nil {
		return nil, err
	}
	if res.Scheme != "" {
		err := s.journal.Transition(intent, intent.State, func(i *model.Intent) { i.SigningScheme = res.Scheme })
		if err != nil {
			s.logger.Error("cannot journal signing scheme", "intent", intent.ID, "error", err)
		}
	}

	out := &Outcome{
		IntentID:   intent.ID,
		Operation:  intent.Operation,
		State:      model.IntentState(res.State),
		UserOpHash: res.UserOpHash,
		TxHash:     res.TxHash,
		Pending:    res.Pending,
		Scheme:     res.Scheme,
	}
	if res.TxHash != (common.Hash{}) {
		out.ExplorerURL = s.config.Chain.TxURL(res.TxHash)
	}
	s.logger.Info("intent finished", "intent", intent.ID, "state", out.State, "userOpHash", out.UserOpHash, "txHash", out.TxHash)
	return out, nil
}

// direct sends the call as a plain transaction from the owner EOA. It is
// the only path for degraded accounts.
func (s *Service) direct(ctx context.Context, sess *Session, intent *model.Intent, call aa.Call) (*Outcome, error) {
	s.logger.Warn("account is degraded, sending intent from the owner wallet",
		"intent", intent.ID, "owner", sess.Handle.Owner)
	s.metrics.IncFallback("degraded")
	op := string(intent.Operation)

	if err := s.journal.Transition(intent, model.StateSubmitting, nil); err != nil {
		return nil, err
	}
	txHash, err := sess.Wallet.SendTransaction(ctx, s.client, call.To, call.Value, call.Data)
	if err != nil {
		s.metrics.IncIntent(op, string(model.StateFailed))
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	if err := s.journal.Transition(intent, model.StatePending, func(i *model.Intent) { i.TxHash = txHash.Hex() }); err != nil {
		s.logger.Error("cannot journal pending intent", "intent", intent.ID, "error", err)
	}

	out := &Outcome{
		IntentID:    intent.ID,
		Operation:   intent.Operation,
		TxHash:      txHash,
		Degraded:    true,
		ExplorerURL: s.config.Chain.TxURL(txHash),
	}
	poll := chainio.PollPolicy{Interval: s.config.Poll.Interval, Attempts: s.config.Poll.Attempts}
	receipt, err := chainio.WaitMined(ctx, s.client, txHash, poll)
	switch {
	case err != nil:
		s.logger.Warn("could not follow transaction, leaving it pending", "txHash", txHash, "error", err)
		fallthrough
	case receipt == nil:
		out.State = model.StateTimedOut
		out.Pending = true
	case receipt.Status == types.ReceiptStatusSuccessful:
		out.State = model.StateConfirmed
	default:
		out.State = model.StateFailed
	}

	err = s.journal.Transition(intent, out.State, func(i *model.Intent) {
		if out.State == model.StateFailed {
			i.ErrorKind = string(apperr.KindBundler)
			i.ErrorCode = apperr.CodeExecutionReverted
			i.ErrorMessage = "transaction reverted"
		}
	})
	if err != nil {
		s.logger.Error("cannot journal intent outcome", "intent", intent.ID, "error", err)
	}
	s.metrics.IncIntent(op, string(out.State))
	return out, nil
}

func (s *Service) checkSession(sess *Session) error {
	if sess == nil || sess.Handle == nil {
		return apperr.Wallet(apperr.CodeWalletUnavailable, "no connected account", nil)
	}
	if sess.Wallet == nil {
		return apperr.Wallet(apperr.CodeWalletUnavailable, "no wallet connected", nil)
	}
	if !s.contract.Deployed() {
		return apperr.Validation(apperr.CodeContractMissing, "staking contract is not configured")
	}
	return nil
}
