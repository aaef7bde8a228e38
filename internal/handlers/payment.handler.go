package handlers

import (
	"context"
	"encoding/json"
	"errors"

	gateway "github.com/omondi/mpesa-gateway/internal/gateways"
	"github.com/omondi/mpesa-gateway/internal/model"
	"github.com/omondi/mpesa-gateway/internal/services"
	"github.com/omondi/mpesa-gateway/internal/store"
	xhttp "github.com/omondi/mpesa-gateway/pkg/http"
	"github.com/omondi/mpesa-gateway/pkg/logger"
)

type PaymentService interface {
	Initiate(ctx context.Context, req model.PaymentRequest) (*services.InitiateResult, error)
	Reconcile(ctx context.Context, envelope model.CallbackEnvelope) model.CallbackAck
	Status(checkoutRequestID string) (model.Transaction, error)
}

type PaymentHandler struct {
	svc PaymentService
}

func NewPaymentHandler(paymentService PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: paymentService}
}

func RegisterPaymentRoutes(r *xhttp.Router, h *PaymentHandler) {
	r.POST("/api/mpesa/stk-push", h.InitiatePush)
	r.POST("/api/mpesa/callback", h.Callback)
	r.GET("/api/transactions/{checkoutRequestId}", h.GetTransaction)
}

type stkPushRequest struct {
	Phone      string `json:"phone"`
	Amount     uint   `json:"amount"`
	AccountRef string `json:"accountRef"`
}

type stkPushResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	CustomerMessage   string `json:"customerMessage"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type transactionResponse struct {
	Success     bool              `json:"success"`
	Transaction model.Transaction `json:"transaction"`
}

func (h *PaymentHandler) InitiatePush(ctx *xhttp.RequestCtx) {
	var req stkPushRequest
	if err := readJSON(ctx, &req); err != nil {
		writeJSON(ctx, xhttp.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	result, err := h.svc.Initiate(ctx, model.PaymentRequest{
		Phone:            req.Phone,
		Amount:           req.Amount,
		AccountReference: req.AccountRef,
	})
	if err != nil {
		status, resp := mapInitiateError(err)
		writeJSON(ctx, status, resp)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, stkPushResponse{
		Success:           true,
		Message:           "STK push initiated",
		CheckoutRequestID: result.CheckoutRequestID,
		CustomerMessage:   result.CustomerMessage,
	})
}

// Callback acknowledges every delivery with HTTP 200. A negative ResultCode
// is returned only when the body cannot be decoded at all; Daraja may retry
// delivery on that.
func (h *PaymentHandler) Callback(ctx *xhttp.RequestCtx) {
	var envelope model.CallbackEnvelope
	if err := json.Unmarshal(ctx.PostBody(), &envelope); err != nil {
		logger.Error("undecodable callback body", "error", err, "bytes", len(ctx.PostBody()))
		writeJSON(ctx, xhttp.StatusOK, model.AckFailed)
		return
	}

	ack := h.svc.Reconcile(ctx, envelope)
	writeJSON(ctx, xhttp.StatusOK, ack)
}

func (h *PaymentHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	id, ok := ctx.UserValue("checkoutRequestId").(string)
	if !ok || id == "" {
		writeJSON(ctx, xhttp.StatusBadRequest, errorResponse{Error: "checkoutRequestId is required"})
		return
	}

	tx, err := h.svc.Status(id)
	if err != nil {
		writeJSON(ctx, xhttp.StatusNotFound, errorResponse{Error: "transaction not found"})
		return
	}

	writeJSON(ctx, xhttp.StatusOK, transactionResponse{Success: true, Transaction: tx})
}

func mapInitiateError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, model.ErrMissingPhone),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrMissingAccountRef):
		return xhttp.StatusBadRequest, errorResponse{Error: err.Error()}
	}

	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		return xhttp.StatusInternalServerError, errorResponse{Error: "failed to authenticate with payment gateway", Details: authErr.Detail}
	}

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		return xhttp.StatusInternalServerError, errorResponse{Error: "payment gateway rejected the request", Details: gwErr.Detail}
	}

	if errors.Is(err, store.ErrDuplicateKey) {
		return xhttp.StatusInternalServerError, errorResponse{Error: "duplicate checkout request"}
	}

	return xhttp.StatusInternalServerError, errorResponse{Error: err.Error()}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}
