package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gateway "github.com/omondi/mpesa-gateway/internal/gateways"
	"github.com/omondi/mpesa-gateway/internal/model"
	"github.com/omondi/mpesa-gateway/internal/services"
	xhttp "github.com/omondi/mpesa-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Initiate(ctx context.Context, req model.PaymentRequest) (*services.InitiateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.InitiateResult), args.Error(1)
}

func (m *MockPaymentService) Reconcile(ctx context.Context, envelope model.CallbackEnvelope) model.CallbackAck {
	args := m.Called(ctx, envelope)
	return args.Get(0).(model.CallbackAck)
}

func (m *MockPaymentService) Status(checkoutRequestID string) (model.Transaction, error) {
	args := m.Called(checkoutRequestID)
	return args.Get(0).(model.Transaction), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestPaymentHandler_InitiatePush(t *testing.T) {
	t.Run("successful initiation", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body, _ := json.Marshal(stkPushRequest{
			Phone:      "0712345678",
			Amount:     150,
			AccountRef: "INV-001",
		})

		svc.On("Initiate", mock.Anything, mock.MatchedBy(func(r model.PaymentRequest) bool {
			return r.Phone == "0712345678" && r.Amount == 150 && r.AccountReference == "INV-001"
		})).Return(&services.InitiateResult{
			CheckoutRequestID: "ws_CO_1",
			CustomerMessage:   "Success. Request accepted for processing",
		}, nil)

		ctx := setupTestContext("POST", "/api/mpesa/stk-push", body)
		handler.InitiatePush(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp stkPushResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
		assert.Equal(t, "Success. Request accepted for processing", resp.CustomerMessage)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		ctx := setupTestContext("POST", "/api/mpesa/stk-push", []byte("not json"))
		handler.InitiatePush(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "invalid JSON")
	})

	t.Run("validation error maps to 400", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body, _ := json.Marshal(stkPushRequest{Phone: "0712345678"})
		svc.On("Initiate", mock.Anything, mock.Anything).Return(nil, model.ErrInvalidAmount)

		ctx := setupTestContext("POST", "/api/mpesa/stk-push", body)
		handler.InitiatePush(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, model.ErrInvalidAmount.Error(), resp.Error)
	})

	t.Run("auth error maps to 500 with upstream detail", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body, _ := json.Marshal(stkPushRequest{Phone: "0712345678", Amount: 10, AccountRef: "X"})
		svc.On("Initiate", mock.Anything, mock.Anything).
			Return(nil, &gateway.AuthError{Detail: "Invalid Authentication passed"})

		ctx := setupTestContext("POST", "/api/mpesa/stk-push", body)
		handler.InitiatePush(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Details, "Invalid Authentication passed")
	})

	t.Run("gateway error maps to 500 with upstream detail", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body, _ := json.Marshal(stkPushRequest{Phone: "0712345678", Amount: 10, AccountRef: "X"})
		svc.On("Initiate", mock.Anything, mock.Anything).
			Return(nil, &gateway.GatewayError{StatusCode: 500, Detail: "Unable to lock subscriber"})

		ctx := setupTestContext("POST", "/api/mpesa/stk-push", body)
		handler.InitiatePush(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Contains(t, resp.Details, "Unable to lock subscriber")
	})
}

func TestPaymentHandler_Callback(t *testing.T) {
	t.Run("valid envelope is reconciled and acked", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		body := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`)
		svc.On("Reconcile", mock.Anything, mock.MatchedBy(func(e model.CallbackEnvelope) bool {
			return e.HasResult() && e.Body.StkCallback.CheckoutRequestID == "ws_CO_1"
		})).Return(model.AckSuccess)

		ctx := setupTestContext("POST", "/api/mpesa/callback", body)
		handler.Callback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var ack model.CallbackAck
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &ack))
		assert.Equal(t, model.AckSuccess, ack)

		svc.AssertExpectations(t)
	})

	t.Run("undecodable body is acked negatively with 200", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		ctx := setupTestContext("POST", "/api/mpesa/callback", []byte("{{{"))
		handler.Callback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var ack model.CallbackAck
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &ack))
		assert.Equal(t, model.AckFailed, ack)

		svc.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	})
}

func TestPaymentHandler_GetTransaction(t *testing.T) {
	t.Run("known transaction", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("Status", "ws_CO_1").Return(model.Transaction{
			CheckoutRequestID: "ws_CO_1",
			Status:            model.TransactionStatusPending,
			CreatedAt:         time.Now(),
		}, nil)

		ctx := setupTestContext("GET", "/api/transactions/ws_CO_1", nil)
		ctx.SetUserValue("checkoutRequestId", "ws_CO_1")
		handler.GetTransaction(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp transactionResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "ws_CO_1", resp.Transaction.CheckoutRequestID)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewPaymentHandler(svc)

		svc.On("Status", "missing").Return(model.Transaction{}, assert.AnError)

		ctx := setupTestContext("GET", "/api/transactions/missing", nil)
		ctx.SetUserValue("checkoutRequestId", "missing")
		handler.GetTransaction(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())

		var resp errorResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.False(t, resp.Success)
	})
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("dev", func() map[string]bool {
		return map[string]bool{"consumerKey": true, "passkey": false}
	})

	t.Run("liveness", func(t *testing.T) {
		ctx := setupTestContext("GET", "/api", nil)
		h.GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp healthResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "dev", resp.Environment)
		assert.False(t, resp.Timestamp.IsZero())
	})

	t.Run("config diagnostics reports presence only", func(t *testing.T) {
		ctx := setupTestContext("GET", "/api/config", nil)
		h.GetConfigDiagnostics(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp map[string]bool
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.True(t, resp["consumerKey"])
		assert.False(t, resp["passkey"])
	})
}
