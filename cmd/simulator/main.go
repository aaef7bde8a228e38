package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MockDaraja simulates the Safaricom Daraja sandbox: it issues OAuth tokens,
// accepts STK push submissions, and delivers the asynchronous result callback
// to the caller's CallBackURL after a short delay.
type MockDaraja struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
	client      *http.Client
}

func NewMockDaraja(successRate float64, minDelay, maxDelay time.Duration) *MockDaraja {
	return &MockDaraja{
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode" binding:"required"`
	Password          string `json:"Password" binding:"required"`
	Timestamp         string `json:"Timestamp" binding:"required"`
	TransactionType   string `json:"TransactionType"`
	Amount            uint   `json:"Amount" binding:"required"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber" binding:"required"`
	CallBackURL       string `json:"CallBackURL" binding:"required"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

func (m *MockDaraja) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockDaraja) shouldSucceed() bool {
	return m.rng.Float64() < m.successRate
}

// deliverCallback posts the asynchronous stkCallback envelope after the
// simulated customer interaction completes.
func (m *MockDaraja) deliverCallback(checkoutID, merchantID, phone string, amount uint, callbackURL string) {
	time.Sleep(m.randomDelay())

	stk := map[string]any{
		"MerchantRequestID": merchantID,
		"CheckoutRequestID": checkoutID,
	}

	if m.shouldSucceed() {
		stk["ResultCode"] = 0
		stk["ResultDesc"] = "The service request is processed successfully."
		stk["CallbackMetadata"] = map[string]any{
			"Item": []metadataItem{
				{Name: "Amount", Value: float64(amount)},
				{Name: "MpesaReceiptNumber", Value: receiptNumber(m.rng)},
				{Name: "TransactionDate", Value: transactionDate(time.Now())},
				{Name: "PhoneNumber", Value: phoneAsNumber(phone)},
			},
		}
	} else {
		stk["ResultCode"] = 1032
		stk["ResultDesc"] = "Request cancelled by user"
	}

	envelope := map[string]any{"Body": map[string]any{"stkCallback": stk}}
	body, _ := json.Marshal(envelope)

	resp, err := m.client.Post(callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("checkout_request_id", checkoutID).Msg("Callback delivery failed")
		return
	}
	defer resp.Body.Close()

	log.Info().
		Str("checkout_request_id", checkoutID).
		Int("status", resp.StatusCode).
		Msg("Callback delivered")
}

type Handler struct {
	daraja *MockDaraja
}

func NewHandler(daraja *MockDaraja) *Handler {
	return &Handler{daraja: daraja}
}

// GenerateToken mimics the OAuth client-credentials endpoint.
func (h *Handler) GenerateToken(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Invalid Authentication passed"})
		return
	}
	if _, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic ")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Invalid Authentication passed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": strings.ReplaceAll(uuid.New().String(), "-", ""),
		"expires_in":   "3599",
	})
}

// ProcessRequest accepts an STK push and schedules the asynchronous callback.
func (h *Handler) ProcessRequest(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"errorMessage": "Invalid Access Token"})
		return
	}

	var req stkPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"requestId":    uuid.New().String(),
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - " + err.Error(),
		})
		return
	}

	checkoutID := "ws_CO_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	merchantID := uuid.New().String()

	log.Info().
		Str("checkout_request_id", checkoutID).
		Str("phone", req.PhoneNumber).
		Uint("amount", req.Amount).
		Msg("STK push accepted")

	go h.daraja.deliverCallback(checkoutID, merchantID, req.PhoneNumber, req.Amount, req.CallBackURL)

	c.JSON(http.StatusOK, gin.H{
		"MerchantRequestID":   merchantID,
		"CheckoutRequestID":   checkoutID,
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	router.GET("/oauth/v1/generate", handler.GenerateToken)
	router.POST("/mpesa/stkpush/v1/processrequest", handler.ProcessRequest)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	successRate := getEnvFloat("SUCCESS_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 8*time.Second)

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Daraja Gateway")

	daraja := NewMockDaraja(successRate, minDelay, maxDelay)
	handler := NewHandler(daraja)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func receiptNumber(rng *rand.Rand) string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(b)
}

// transactionDate renders the Daraja YYYYMMDDHHmmss numeric timestamp.
func transactionDate(t time.Time) int64 {
	var n int64
	fmt.Sscanf(t.Format("20060102150405"), "%d", &n)
	return n
}

func phoneAsNumber(phone string) any {
	var n int64
	if _, err := fmt.Sscanf(phone, "%d", &n); err != nil {
		return phone
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
