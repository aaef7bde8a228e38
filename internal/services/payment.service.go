package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	gateway "github.com/omondi/mpesa-gateway/internal/gateways"
	"github.com/omondi/mpesa-gateway/internal/metrics"
	"github.com/omondi/mpesa-gateway/internal/model"
	"github.com/omondi/mpesa-gateway/internal/store"
	"github.com/omondi/mpesa-gateway/pkg/logger"
)

const (
	defaultCountryPrefix = "254"
	maxAccountRefLen     = 12
	transactionType      = "CustomerPayBillOnline"
)

type DarajaClient interface {
	AccessToken(ctx context.Context) (string, error)
	SubmitPush(ctx context.Context, payload gateway.StkPushPayload, accessToken string) (*gateway.StkPushResponse, error)
}

type TransactionStore interface {
	Create(tx model.Transaction) error
	Get(checkoutRequestID string) (model.Transaction, error)
	Update(checkoutRequestID string, mutate func(tx *model.Transaction) error) error
}

type PaymentConfig struct {
	Shortcode     string
	Passkey       string
	CallbackURL   string
	CountryPrefix string
}

// InitiateResult is returned to the caller once Daraja accepts a push. The
// CheckoutRequestID is the correlation key for the later callback.
type InitiateResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResponseCode      string
	CustomerMessage   string
}

// PaymentService drives the STK push lifecycle: it submits push requests,
// registers the pending transaction, and applies callback results to it.
type PaymentService struct {
	daraja DarajaClient
	txs    TransactionStore
	config PaymentConfig
	now    func() time.Time
}

func NewPaymentService(daraja DarajaClient, txs TransactionStore, config PaymentConfig) *PaymentService {
	if config.CountryPrefix == "" {
		config.CountryPrefix = defaultCountryPrefix
	}
	return &PaymentService{
		daraja: daraja,
		txs:    txs,
		config: config,
		now:    time.Now,
	}
}

// Initiate validates and normalizes the request, obtains credentials, submits
// the push, and registers a pending transaction keyed by the returned
// CheckoutRequestID. No transaction exists on any failure path.
func (s *PaymentService) Initiate(ctx context.Context, req model.PaymentRequest) (*InitiateResult, error) {
	if err := req.Validate(); err != nil {
		metrics.PaymentsRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	phone := NormalizePhone(req.Phone, s.config.CountryPrefix)
	accountRef := truncate(req.AccountReference, maxAccountRefLen)

	tokenStart := time.Now()
	token, err := s.daraja.AccessToken(ctx)
	if err != nil {
		metrics.PaymentsRejected.WithLabelValues("auth").Inc()
		logger.Error("access token acquisition failed", "error", err)
		return nil, err
	}
	metrics.GatewayLatency.WithLabelValues("token").Observe(time.Since(tokenStart).Seconds())

	password, timestamp := gateway.Credentials(s.config.Shortcode, s.config.Passkey, s.now())

	payload := gateway.StkPushPayload{
		BusinessShortCode: s.config.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.Amount,
		PartyA:            phone,
		PartyB:            s.config.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       s.config.CallbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   accountRef,
	}

	pushStart := time.Now()
	resp, err := s.daraja.SubmitPush(ctx, payload, token)
	if err != nil {
		metrics.PaymentsRejected.WithLabelValues("gateway").Inc()
		logger.Error("stk push submission failed", "phone", phone, "error", err)
		return nil, err
	}
	metrics.GatewayLatency.WithLabelValues("push").Observe(time.Since(pushStart).Seconds())

	tx := model.Transaction{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Phone:             phone,
		Amount:            req.Amount,
		AccountReference:  accountRef,
		CustomerMessage:   resp.CustomerMessage,
		Status:            model.TransactionStatusPending,
		CreatedAt:         s.now(),
	}
	if err := s.txs.Create(tx); err != nil {
		// Keys are gateway-assigned and unique; a duplicate here is an
		// invariant violation, not a caller error.
		logger.Error("transaction registration failed", "checkout_request_id", resp.CheckoutRequestID, "error", err)
		return nil, err
	}

	metrics.PaymentsInitiated.Inc()
	logger.Info("transaction registered",
		"checkout_request_id", resp.CheckoutRequestID,
		"phone", phone,
		"amount", req.Amount)

	return &InitiateResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		ResponseCode:      resp.ResponseCode,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// Reconcile applies an asynchronous callback to the matching transaction.
// Daraja requires a positive acknowledgment for every delivery it can shape,
// so unknown, late, and duplicate callbacks all ack success without mutating
// anything.
func (s *PaymentService) Reconcile(ctx context.Context, envelope model.CallbackEnvelope) model.CallbackAck {
	if !envelope.HasResult() {
		metrics.CallbacksTotal.WithLabelValues("malformed").Inc()
		logger.Warn("callback without stk result, acknowledging as no-op")
		return model.AckSuccess
	}

	cb := envelope.Body.StkCallback
	applied := false

	err := s.txs.Update(cb.CheckoutRequestID, func(tx *model.Transaction) error {
		if tx.Status.Terminal() {
			// Redelivered or duplicate callback; the first result stands.
			return nil
		}
		applied = true
		if cb.ResultCode == 0 {
			now := s.now()
			tx.Status = model.TransactionStatusCompleted
			tx.CompletedAt = &now
			applyMetadata(tx, cb.CallbackMetadata)
		} else {
			tx.Status = model.TransactionStatusFailed
			tx.ErrorMessage = cb.ResultDesc
		}
		return nil
	})
	if err != nil {
		// Unknown correlation key: the push may predate a restart or belong
		// to someone else. Ack anyway so the gateway stops redelivering.
		metrics.CallbacksTotal.WithLabelValues("unmatched").Inc()
		logger.Warn("callback for unknown transaction", "checkout_request_id", cb.CheckoutRequestID)
		return model.AckSuccess
	}

	if !applied {
		metrics.CallbacksTotal.WithLabelValues("ignored").Inc()
		logger.Info("duplicate callback ignored", "checkout_request_id", cb.CheckoutRequestID)
		return model.AckSuccess
	}

	if cb.ResultCode == 0 {
		metrics.CallbacksTotal.WithLabelValues("completed").Inc()
		logger.Info("transaction completed", "checkout_request_id", cb.CheckoutRequestID)
	} else {
		metrics.CallbacksTotal.WithLabelValues("failed").Inc()
		logger.Info("transaction failed",
			"checkout_request_id", cb.CheckoutRequestID,
			"result_code", cb.ResultCode,
			"result_desc", cb.ResultDesc)
	}

	return model.AckSuccess
}

// Status returns the stored transaction for external polling.
func (s *PaymentService) Status(checkoutRequestID string) (model.Transaction, error) {
	return s.txs.Get(checkoutRequestID)
}

func applyMetadata(tx *model.Transaction, md *model.CallbackMetadata) {
	if md == nil {
		return
	}
	for _, item := range md.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Float(); ok {
				tx.ActualAmount = &v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.String(); ok {
				tx.ReceiptNumber = &v
			}
		case "TransactionDate":
			if v, ok := item.Int64(); ok {
				tx.TransactionDate = &v
			}
		case "PhoneNumber":
			if v, ok := item.String(); ok {
				tx.PayerPhone = &v
			}
		}
	}
}

// NormalizePhone rewrites a phone number into the international digits-only
// form Daraja expects. A single leading "+" is stripped and nothing else; a
// leading "0" is replaced by the country prefix; a number already carrying
// the prefix passes through; anything else gets the prefix prepended.
func NormalizePhone(phone, prefix string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	switch {
	case strings.HasPrefix(phone, "0"):
		return prefix + phone[1:]
	case strings.HasPrefix(phone, prefix):
		return phone
	default:
		return prefix + phone
	}
}

// truncate limits s to max characters without splitting a multibyte rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

var _ TransactionStore = (*store.Store)(nil)
