package gateway

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/model"
)

type errorResp struct {
	Code    string                 `json:"code"`
	Kind    apperr.Kind            `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type stakeResp struct {
	staking.StakeInfoView
	Raw *model.StakeInfo `json:"raw"`
}

type PrepareRequest struct {
	Owner     string `json:"owner" validate:"required,eth_addr"`
	Operation string `json:"operation" validate:"required,oneof=stake unstake claim"`
	// Amount in MON, e.g. "1.5". Ignored for claims.
	Amount string `json:"amount" validate:"required_unless=Operation claim"`
}

func (s *Server) getChain(c echo.Context) error {
	return c.JSON(http.StatusOK, &HttpJsonResp[interface{}]{Data: s.chain.Info()})
}

func (s *Server) getAccount(c echo.Context) error {
	owner, err := addressParam(c, "owner")
	if err != nil {
		return err
	}
	handle, err := s.service.Account(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	if !handle.Degraded() {
		handle.IsDeployed(c.Request().Context(), s.client)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*model.SmartWallet]{
		Data: handle.ToModel(s.chain.AddressURL(handle.Address)),
	})
}

func (s *Server) getStake(c echo.Context) error {
	user, err := addressParam(c, "user")
	if err != nil {
		return err
	}
	info, err := s.service.GetStakeInfo(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[stakeResp]{
		Data: stakeResp{StakeInfoView: staking.FormatStakeInfo(info, staking.Decimals), Raw: info},
	})
}

func (s *Server) getHistory(c echo.Context) error {
	user, err := addressParam(c, "user")
	if err != nil {
		return err
	}
	events, err := s.service.History(c.Request().Context(), user)
	if err != nil {
		return err
	}
	if events == nil {
		events = []*model.StakingEvent{}
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[[]*model.StakingEvent]{Data: events})
}

func (s *Server) getIntent(c echo.Context) error {
	intent, err := s.service.Journal().Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*model.Intent]{Data: intent})
}

// prepareUserOp builds and estimates an unsigned operation for an external
// wallet. The wallet signs userOpHash as a personal message, or typedData
// when acceptsTypedData is set, and submits on its own.
func (s *Server) prepareUserOp(c echo.Context) error {
	var req PrepareRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation(apperr.CodeInvalidInput, "request body is not valid JSON")
	}
	if err := s.validate.Struct(req); err != nil {
		return validationError(err)
	}

	ctx := c.Request().Context()
	op := model.Operation(req.Operation)
	var amount *big.Int
	if op != model.OperationClaim {
		v, err := staking.ParseAmount(req.Amount, staking.Decimals)
		if err != nil {
			return err
		}
		amount = v
	}

	handle, err := s.service.Account(ctx, common.HexToAddress(req.Owner))
	if err != nil {
		return err
	}
	calls, err := s.service.IntentCalls(ctx, handle, op, amount)
	if err != nil {
		return err
	}
	prepared, err := s.builder.Prepare(ctx, handle, calls)
	if err != nil {
		return err
	}
	s.logger.Info("prepared userop", "owner", req.Owner, "operation", op, "userOpHash", prepared.UserOpHash)
	return c.JSON(http.StatusOK, &HttpJsonResp[interface{}]{Data: prepared})
}

func addressParam(c echo.Context, name string) (common.Address, error) {
	v := c.Param(name)
	if !common.IsHexAddress(v) {
		return common.Address{}, apperr.Validationf(apperr.CodeInvalidInput, "%s %q is not an address", name, v)
	}
	return common.HexToAddress(v), nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return apperr.Validationf(apperr.CodeInvalidInput, "field %s failed on %s", f.Field(), f.Tag()).
			WithDetail("field", f.Field())
	}
	return apperr.Validation(apperr.CodeInvalidInput, err.Error())
}

// handleError renders every error as {code, kind, message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		code := apperr.CodeInvalidInput
		if he.Code == http.StatusNotFound {
			code = apperr.CodeNotFound
		}
		_ = c.JSON(he.Code, errorResp{Code: code, Kind: apperr.KindValidation, Message: msg})
		return
	}

	e := apperr.Classify(err, apperr.KindNetwork)
	status := e.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	_ = c.JSON(status, errorResp{Code: e.Code, Kind: e.Kind, Message: e.Message, Details: e.Details})
}
