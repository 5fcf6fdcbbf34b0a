package graphql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSimpleQuery(t *testing.T) {
	sb := &strings.Builder{}
	var gotBody map[string]interface{}
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"data":{"protocols":[{"id":"1"}]}}`))
	})

	client := NewClient(url, nil, WithHeader("x-api-key", "secret"), WithLog(func(s string) { sb.WriteString(s) }))
	req := NewRequest(`query P($n: Int!) { protocols(first: $n) { id } }`)
	req.Var("n", 2)

	var resp struct {
		Protocols []struct {
			ID string `json:"id"`
		} `json:"protocols"`
	}
	require.NoError(t, client.Run(context.Background(), req, &resp))
	require.Len(t, resp.Protocols, 1)
	assert.Equal(t, "1", resp.Protocols[0].ID)
	assert.Equal(t, float64(2), gotBody["variables"].(map[string]interface{})["n"])
	assert.Contains(t, sb.String(), "<< status: 200")
}

func TestGraphErrorsAreReturned(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"field not found"}]}`))
	})

	err := NewClient(url, nil).Run(context.Background(), NewRequest("{ x }"), &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field not found")
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork))
}

func TestNon200IsNetworkError(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	err := NewClient(url, nil).Run(context.Background(), NewRequest("{ x }"), &struct{}{})
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork))
}

func TestUserStakingHistory(t *testing.T) {
	user := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	var gotUser string
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Query, "query UserStakingHistory")
		gotUser = body.Variables["user"]
		_, _ = w.Write([]byte(`{"data":{
			"stakeds":[{"id":"s1","amount":"100000000000000000","timestamp":"1700000000","transactionHash":"0x01","blockNumber":"10"}],
			"unstakeds":[{"id":"u1","amount":"5","reward":"1","timestamp":"1700000100","transactionHash":"0x02","blockNumber":"11"}],
			"rewardClaimeds":[]}}`))
	})

	h, err := NewClient(url, nil).UserStakingHistory(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(user.Hex()), gotUser)
	require.Len(t, h.Staked, 1)
	assert.Equal(t, "100000000000000000", h.Staked[0].Amount)
	require.Len(t, h.Unstaked, 1)
	assert.Equal(t, "1", h.Unstaked[0].Reward)
	assert.Empty(t, h.RewardClaimed)
}
