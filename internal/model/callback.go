package model

import (
	"encoding/json"
	"strconv"
)

// CallbackEnvelope is Daraja's asynchronous result notification. It is decoded
// once into this tagged shape; anything that does not fit is treated as an
// unknown notification, never as a processing failure.
type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	StkCallback *StkCallback `json:"stkCallback"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as a mix of JSON numbers and strings; the raw
// value is kept and converted on demand.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Float returns the item value as a float64.
func (i MetadataItem) Float() (float64, bool) {
	var f float64
	if err := json.Unmarshal(i.Value, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Int64 returns the item value as an int64, accepting integral JSON numbers.
func (i MetadataItem) Int64() (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(i.Value, &n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

// String returns the item value as a string. Daraja sends phone numbers as
// JSON numbers, so numeric values are rendered without an exponent.
func (i MetadataItem) String() (string, bool) {
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(i.Value, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return strconv.FormatInt(v, 10), true
		}
		return n.String(), true
	}
	return "", false
}

// HasResult reports whether the envelope carries a usable stkCallback result,
// i.e. the nested container is present and names a checkout request.
func (e CallbackEnvelope) HasResult() bool {
	return e.Body.StkCallback != nil && e.Body.StkCallback.CheckoutRequestID != ""
}

// CallbackAck is the fixed acknowledgment Daraja expects for every delivery.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	AckSuccess = CallbackAck{ResultCode: 0, ResultDesc: "Success"}
	AckFailed  = CallbackAck{ResultCode: 1, ResultDesc: "Failed"}
)
