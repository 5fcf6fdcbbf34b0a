// Go community is big on static type and codegen. As the result, many sophicated package are based on the idea of static typing the query and code generate the client

package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/ap-staking/core/apperr"
)

// Client is a client for interacting with a GraphQL API.
type Client struct {
	endpoint    string
	restyClient *resty.Client

	// Log is called with various debug information.
	// To log to standard out, use:
	//  client.Log = func(s string) { log.Println(s) }
	Log func(s string)
}

// NewClient creates a new GraphQL client with the specified endpoint and
// options. httpClient may be nil; pass the retrying transport client to share
// its policy.
func NewClient(endpoint string, httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client := &Client{
		endpoint:    endpoint,
		restyClient: resty.NewWithClient(httpClient),
		Log:         func(string) {},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) logf(format string, args ...interface{}) {
	c.Log(fmt.Sprintf(format, args...))
}

// Run executes the GraphQL query and unmarshals the response into the provided response object.
func (c *Client) Run(ctx context.Context, req *Request, resp interface{}) error {
	requestBody := map[string]interface{}{
		"query":     req.Query(),
		"variables": req.Vars(),
	}

	c.logf(">> variables: %v", req.Vars())
	c.logf(">> query: %s", req.Query())

	response, err := c.restyClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(req.Header).
		SetBody(requestBody).
		Post(c.endpoint)

	if err != nil {
		return apperr.Classify(err, apperr.KindNetwork)
	}

	c.logf("<< status: %d", response.StatusCode())
	c.logf("<< body: %s", response.String())

	if response.IsError() {
		return apperr.Network(apperr.CodeRPCFailure,
			fmt.Sprintf("graphql: server returned a non-200 status code: %d", response.StatusCode()), nil)
	}

	return c.parseResponse(response.Body(), resp)
}

func (c *Client) parseResponse(body []byte, resp interface{}) error {
	gr := &graphResponse{Data: resp}
	if err := json.Unmarshal(body, gr); err != nil {
		return apperr.Network(apperr.CodeRPCFailure, "graphql: decoding response", err)
	}
	if len(gr.Errors) > 0 {
		return apperr.Network(apperr.CodeRPCFailure, gr.Errors[0].Error(), gr.Errors[0])
	}
	return nil
}

// ClientOption defines a configuration option for the Client.
type ClientOption func(*Client)

// WithHeader sets a header on every request, e.g. an indexer api key.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.restyClient.SetHeader(key, value)
	}
}

// WithLog sets the debug log function.
func WithLog(log func(s string)) ClientOption {
	return func(c *Client) {
		c.Log = log
	}
}

// Request represents a GraphQL request.
type Request struct {
	query  string
	vars   map[string]interface{}
	Header map[string]string
}

// NewRequest creates a new GraphQL request.
func NewRequest(query string) *Request {
	return &Request{
		query:  query,
		vars:   make(map[string]interface{}),
		Header: make(map[string]string),
	}
}

// Var sets a variable for the GraphQL request.
func (r *Request) Var(key string, value interface{}) {
	r.vars[key] = value
}

// Vars returns the variables of the request.
func (r *Request) Vars() map[string]interface{} {
	return r.vars
}

// Query returns the GraphQL query string.
func (r *Request) Query() string {
	return r.query
}

type graphErr struct {
	Message string
}

func (e graphErr) Error() string {
	return "graphql: " + e.Message
}

type graphResponse struct {
	Data   interface{}
	Errors []graphErr
}
