package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackEnvelope_Decode(t *testing.T) {
	raw := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`

	var e CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	require.True(t, e.HasResult())

	cb := e.Body.StkCallback
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	assert.Equal(t, 0, cb.ResultCode)
	require.NotNil(t, cb.CallbackMetadata)
	require.Len(t, cb.CallbackMetadata.Item, 4)

	amount, ok := cb.CallbackMetadata.Item[0].Float()
	require.True(t, ok)
	assert.Equal(t, 1.0, amount)

	receipt, ok := cb.CallbackMetadata.Item[1].String()
	require.True(t, ok)
	assert.Equal(t, "NLJ7RT61SV", receipt)

	date, ok := cb.CallbackMetadata.Item[2].Int64()
	require.True(t, ok)
	assert.Equal(t, int64(20191219102115), date)

	// numeric phone renders as plain digits
	phone, ok := cb.CallbackMetadata.Item[3].String()
	require.True(t, ok)
	assert.Equal(t, "254708374149", phone)
}

func TestCallbackEnvelope_HasResult(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		var e CallbackEnvelope
		require.NoError(t, json.Unmarshal([]byte(`{}`), &e))
		assert.False(t, e.HasResult())
	})

	t.Run("callback without checkout request id", func(t *testing.T) {
		var e CallbackEnvelope
		require.NoError(t, json.Unmarshal([]byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`), &e))
		assert.False(t, e.HasResult())
	})
}

func TestPaymentRequest_Validate(t *testing.T) {
	valid := PaymentRequest{Phone: "0712345678", Amount: 100, AccountReference: "INV-001"}
	assert.NoError(t, valid.Validate())

	missingPhone := valid
	missingPhone.Phone = ""
	assert.ErrorIs(t, missingPhone.Validate(), ErrMissingPhone)

	missingAmount := valid
	missingAmount.Amount = 0
	assert.ErrorIs(t, missingAmount.Validate(), ErrInvalidAmount)

	missingRef := valid
	missingRef.AccountReference = ""
	assert.ErrorIs(t, missingRef.Validate(), ErrMissingAccountRef)
}
