package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

// startTestGateway serves handler on a loopback listener and returns its base URL.
func startTestGateway(t *testing.T, handler fasthttp.RequestHandler) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln) //nolint:errcheck

	t.Cleanup(func() {
		srv.Shutdown() //nolint:errcheck
	})

	return "http://" + ln.Addr().String()
}

func TestClient_AccessToken(t *testing.T) {
	t.Run("returns token from gateway", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			assert.Equal(t, "/oauth/v1/generate", string(ctx.Path()))
			assert.Contains(t, string(ctx.Request.Header.Peek("Authorization")), "Basic ")
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"access_token":"token-abc","expires_in":"3599"}`)
		})

		client := NewClient(Config{BaseURL: base, ConsumerKey: "k", ConsumerSecret: "s"})

		token, err := client.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-abc", token)
	})

	t.Run("non-200 is an AuthError carrying the body", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString(`{"errorMessage":"Invalid Authentication passed"}`)
		})

		client := NewClient(Config{BaseURL: base})

		_, err := client.AccessToken(context.Background())
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, authErr.Detail, "Invalid Authentication passed")
	})

	t.Run("missing access_token field is an AuthError", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			ctx.SetBodyString(`{"expires_in":"3599"}`)
		})

		client := NewClient(Config{BaseURL: base})

		_, err := client.AccessToken(context.Background())
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Contains(t, authErr.Detail, "access_token")
	})

	t.Run("unreachable gateway is an AuthError", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://127.0.0.1:1", TokenTimeout: 500 * time.Millisecond})

		_, err := client.AccessToken(context.Background())
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	})
}

func TestClient_SubmitPush(t *testing.T) {
	payload := StkPushPayload{
		BusinessShortCode: "174379",
		Amount:            100,
		PhoneNumber:       "254712345678",
	}

	t.Run("returns checkout request id", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			assert.Equal(t, "/mpesa/stkpush/v1/processrequest", string(ctx.Path()))
			assert.Equal(t, "Bearer token-abc", string(ctx.Request.Header.Peek("Authorization")))
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{
				"MerchantRequestID":"29115-34620561-1",
				"CheckoutRequestID":"ws_CO_191220191020363925",
				"ResponseCode":"0",
				"ResponseDescription":"Success. Request accepted for processing",
				"CustomerMessage":"Success. Request accepted for processing"
			}`)
		})

		client := NewClient(Config{BaseURL: base})

		resp, err := client.SubmitPush(context.Background(), payload, "token-abc")
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
		assert.Equal(t, "Success. Request accepted for processing", resp.CustomerMessage)
	})

	t.Run("non-200 is a GatewayError with status and body", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString(`{"errorCode":"500.001.1001","errorMessage":"Unable to lock subscriber"}`)
		})

		client := NewClient(Config{BaseURL: base})

		_, err := client.SubmitPush(context.Background(), payload, "t")
		var gwErr *GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Equal(t, fasthttp.StatusInternalServerError, gwErr.StatusCode)
		assert.Contains(t, gwErr.Detail, "Unable to lock subscriber")
	})

	t.Run("missing CheckoutRequestID is a GatewayError", func(t *testing.T) {
		base := startTestGateway(t, func(ctx *fasthttp.RequestCtx) {
			ctx.SetBodyString(`{"ResponseCode":"0"}`)
		})

		client := NewClient(Config{BaseURL: base})

		_, err := client.SubmitPush(context.Background(), payload, "t")
		var gwErr *GatewayError
		require.ErrorAs(t, err, &gwErr)
		assert.Contains(t, gwErr.Detail, "CheckoutRequestID")
	})
}
