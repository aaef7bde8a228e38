package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omondi/mpesa-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	defaultTokenTimeout = 10 * time.Second
	defaultPushTimeout  = 30 * time.Second
)

// AuthError means the credential exchange with Daraja failed. Detail carries
// the upstream response body or transport error for diagnostics.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("daraja auth failed: %s", e.Detail)
}

// GatewayError means the push submission was rejected or never answered.
type GatewayError struct {
	StatusCode int
	Detail     string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("daraja push failed: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("daraja push failed: %s", e.Detail)
}

// StkPushPayload is the wire shape of the STK push submission.
type StkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            uint   `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPushResponse is Daraja's synchronous answer to an accepted push.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	TokenTimeout   time.Duration
	PushTimeout    time.Duration
}

// Client performs the two outbound Daraja calls. It never retries; the
// gateway's own redelivery behavior is accepted as given.
type Client struct {
	config Config
	client *fasthttp.Client
}

func NewClient(config Config) *Client {
	if config.TokenTimeout == 0 {
		config.TokenTimeout = defaultTokenTimeout
	}
	if config.PushTimeout == 0 {
		config.PushTimeout = defaultPushTimeout
	}
	return &Client{
		config: config,
		client: &fasthttp.Client{
			ReadTimeout:         config.PushTimeout,
			WriteTimeout:        config.PushTimeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// AccessToken exchanges the consumer key/secret for a bearer token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + tokenPath)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Basic "+BasicAuth(c.config.ConsumerKey, c.config.ConsumerSecret))

	if err := c.do(ctx, req, resp, c.config.TokenTimeout); err != nil {
		return "", &AuthError{Detail: err.Error()}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return "", &AuthError{Detail: fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.Body())}
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", &AuthError{Detail: "unparseable token response: " + string(resp.Body())}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Detail: "response carries no access_token: " + string(resp.Body())}
	}

	return tok.AccessToken, nil
}

// SubmitPush submits the STK push request and returns Daraja's synchronous
// acceptance, which carries the CheckoutRequestID used to correlate the
// asynchronous callback.
func (c *Client) SubmitPush(ctx context.Context, payload StkPushPayload, accessToken string) (*StkPushResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Detail: "marshal payload: " + err.Error()}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + pushPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.SetBody(body)

	start := time.Now()
	if err := c.do(ctx, req, resp, c.config.PushTimeout); err != nil {
		return nil, &GatewayError{Detail: err.Error()}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &GatewayError{StatusCode: resp.StatusCode(), Detail: string(resp.Body())}
	}

	var pushResp StkPushResponse
	if err := json.Unmarshal(resp.Body(), &pushResp); err != nil {
		return nil, &GatewayError{Detail: "unparseable push response: " + string(resp.Body())}
	}
	if pushResp.CheckoutRequestID == "" {
		return nil, &GatewayError{Detail: "response carries no CheckoutRequestID: " + string(resp.Body())}
	}

	logger.Info("stk push accepted",
		"checkout_request_id", pushResp.CheckoutRequestID,
		"response_code", pushResp.ResponseCode,
		"latency_ms", time.Since(start).Milliseconds())

	return &pushResp, nil
}

// do performs the request against the earlier of the per-call timeout and the
// context deadline.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.client.DoDeadline(req, resp, deadline)
}
