package phonepe_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
	"github.com/boxcostpro/payment-gateway/internal/gateway/phonepe"
)

const (
	testMerchantID = "MERCHANTUAT"
	testSaltKey    = "099eb0cd-02cf-4e2a-8aca-3e6c6aff0399"
	testSaltIndex  = "1"
)

func newAdapter(t *testing.T, baseURL string) *phonepe.Adapter {
	t.Helper()
	a := phonepe.New(nil)
	if baseURL != "" {
		a.SetBaseURL(baseURL)
	}
	require.NoError(t, a.Initialize(gateway.Credentials{
		MerchantID: testMerchantID,
		SaltKey:    testSaltKey,
		SaltIndex:  testSaltIndex,
	}))
	return a
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// callbackBody builds the webhook body and its X-VERIFY header for a given
// salt key, mirroring PhonePe's documented callback format.
func callbackBody(t *testing.T, code, saltKey string) ([]byte, string) {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"success": code == "PAYMENT_SUCCESS",
		"code":    code,
		"message": "callback",
		"data": map[string]any{
			"merchantTransactionId": "order_cb1",
			"transactionId":         "T240001",
			"amount":                99900,
			"state":                 "COMPLETED",
		},
	})
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(inner)

	body, err := json.Marshal(map[string]string{"response": encoded})
	require.NoError(t, err)
	signature := sha256Hex(encoded+saltKey) + "###" + testSaltIndex
	return body, signature
}

func TestAdapter_Initialize(t *testing.T) {
	t.Run("missing salt key fails fast", func(t *testing.T) {
		a := phonepe.New(nil)
		err := a.Initialize(gateway.Credentials{MerchantID: "M1"})
		assert.ErrorIs(t, err, gateway.ErrMissingCredentials)
	})

	t.Run("operations before initialize are rejected", func(t *testing.T) {
		a := phonepe.New(nil)
		_, err := a.CreateOrder(context.Background(), gateway.OrderRequest{Amount: 1, Currency: "INR"})
		assert.ErrorIs(t, err, gateway.ErrNotInitialized)
	})

	t.Run("capability metadata", func(t *testing.T) {
		a := phonepe.New(nil)
		assert.Equal(t, gateway.TypePhonePe, a.Type())
		assert.True(t, a.SupportsUPI())
		assert.False(t, a.SupportsInternational())
		assert.Equal(t, []string{"INR"}, a.SupportedCurrencies())
	})
}

func TestAdapter_CreateOrder(t *testing.T) {
	t.Run("pay call carries a correct X-VERIFY checksum", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/pg/v1/pay", r.URL.Path)

			var envelope struct {
				Request string `json:"request"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))

			wantVerify := sha256Hex(envelope.Request+"/pg/v1/pay"+testSaltKey) + "###" + testSaltIndex
			assert.Equal(t, wantVerify, r.Header.Get("X-VERIFY"))

			raw, err := base64.StdEncoding.DecodeString(envelope.Request)
			require.NoError(t, err)
			var inner map[string]any
			require.NoError(t, json.Unmarshal(raw, &inner))
			assert.Equal(t, testMerchantID, inner["merchantId"])
			assert.Equal(t, float64(99900), inner["amount"])

			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"code":    "PAYMENT_INITIATED",
				"data": map[string]any{
					"merchantTransactionId": inner["merchantTransactionId"],
					"instrumentResponse": map[string]any{
						"redirectInfo": map[string]any{"url": "https://pay.example/checkout"},
					},
				},
			})
		}))
		defer srv.Close()

		a := newAdapter(t, srv.URL)
		resp, err := a.CreateOrder(context.Background(), gateway.OrderRequest{
			Amount: 999.00, Currency: "INR", UserID: "u1",
		})
		require.NoError(t, err)
		assert.Equal(t, resp.OrderID, resp.GatewayOrderID)
		assert.Equal(t, "https://pay.example/checkout", resp.GatewayData["redirectUrl"])
	})

	t.Run("non-INR currency is rejected locally", func(t *testing.T) {
		a := newAdapter(t, "http://unused.invalid")
		_, err := a.CreateOrder(context.Background(), gateway.OrderRequest{Amount: 10, Currency: "USD"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "USD")
	})

	t.Run("provider rejection embeds code and message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"success": false, "code": "KEY_NOT_CONFIGURED", "message": "Key not found for the merchant",
			})
		}))
		defer srv.Close()

		a := newAdapter(t, srv.URL)
		_, err := a.CreateOrder(context.Background(), gateway.OrderRequest{Amount: 10, Currency: "INR"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "KEY_NOT_CONFIGURED")
		assert.Contains(t, err.Error(), "Key not found for the merchant")
	})
}

func TestAdapter_OrderStatus(t *testing.T) {
	codes := map[string]gateway.Status{
		"PAYMENT_SUCCESS":   gateway.StatusCaptured,
		"PAYMENT_PENDING":   gateway.StatusPending,
		"PAYMENT_INITIATED": gateway.StatusCreated,
		"PAYMENT_DECLINED":  gateway.StatusFailed,
		"PAYMENT_ERROR":     gateway.StatusFailed,
		"TIMED_OUT":         gateway.StatusFailed,
		// Anything undocumented falls through to failed.
		"SOME_NEW_CODE": gateway.StatusFailed,
	}

	for code, want := range codes {
		t.Run(code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantPath := fmt.Sprintf("/pg/v1/status/%s/order_st1", testMerchantID)
				require.Equal(t, wantPath, r.URL.Path)
				wantVerify := sha256Hex(wantPath+testSaltKey) + "###" + testSaltIndex
				assert.Equal(t, wantVerify, r.Header.Get("X-VERIFY"))

				json.NewEncoder(w).Encode(map[string]any{
					"success": true,
					"code":    code,
					"data": map[string]any{
						"merchantTransactionId": "order_st1",
						"transactionId":         "T1",
						"amount":                12500,
					},
				})
			}))
			defer srv.Close()

			a := newAdapter(t, srv.URL)
			st, err := a.OrderStatus(context.Background(), "order_st1")
			require.NoError(t, err)
			assert.Equal(t, want, st.Status)
			assert.Equal(t, code, st.NativeStatus)
			assert.Equal(t, 125.00, st.Amount)
		})
	}
}

func TestAdapter_VerifyWebhook(t *testing.T) {
	a := newAdapter(t, "")

	t.Run("valid callback populates identifiers", func(t *testing.T) {
		body, sig := callbackBody(t, "PAYMENT_SUCCESS", testSaltKey)
		result, err := a.VerifyWebhook(body, sig)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, "order_cb1", result.OrderID)
		assert.Equal(t, "T240001", result.PaymentID)
		assert.Equal(t, gateway.StatusCaptured, result.Status)
	})

	t.Run("verification is deterministic", func(t *testing.T) {
		body, sig := callbackBody(t, "PAYMENT_SUCCESS", testSaltKey)
		first, err := a.VerifyWebhook(body, sig)
		require.NoError(t, err)
		second, err := a.VerifyWebhook(body, sig)
		require.NoError(t, err)
		assert.Equal(t, first.IsValid, second.IsValid)
	})

	t.Run("signature from a different salt is rejected", func(t *testing.T) {
		body, sig := callbackBody(t, "PAYMENT_SUCCESS", "another-salt-key")
		result, err := a.VerifyWebhook(body, sig)
		require.NoError(t, err)
		assert.False(t, result.IsValid)
		assert.Empty(t, result.OrderID)
	})

	t.Run("tampered signature byte is rejected", func(t *testing.T) {
		body, sig := callbackBody(t, "PAYMENT_SUCCESS", testSaltKey)
		tampered := []byte(sig)
		if tampered[0] == 'a' {
			tampered[0] = 'b'
		} else {
			tampered[0] = 'a'
		}
		result, err := a.VerifyWebhook(body, string(tampered))
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("malformed body is invalid, not an error", func(t *testing.T) {
		result, err := a.VerifyWebhook([]byte(`not-json`), "sig")
		require.NoError(t, err)
		assert.False(t, result.IsValid)
	})

	t.Run("declined callback maps to failed", func(t *testing.T) {
		body, sig := callbackBody(t, "PAYMENT_DECLINED", testSaltKey)
		result, err := a.VerifyWebhook(body, sig)
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, gateway.StatusFailed, result.Status)
	})
}

func TestAdapter_VerifyPayment(t *testing.T) {
	a := newAdapter(t, "")

	t.Run("callback response path verifies checksum", func(t *testing.T) {
		inner, err := json.Marshal(map[string]any{
			"success": true, "code": "PAYMENT_SUCCESS",
			"data": map[string]any{
				"merchantTransactionId": "order_v1", "transactionId": "T2", "amount": 99900,
			},
		})
		require.NoError(t, err)
		encoded := base64.StdEncoding.EncodeToString(inner)
		sig := sha256Hex(encoded+testSaltKey) + "###" + testSaltIndex

		resp, err := a.VerifyPayment(context.Background(), gateway.VerificationRequest{
			OrderID:     "order_v1",
			Signature:   sig,
			RawResponse: map[string]string{"response": encoded},
		})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, gateway.StatusCaptured, resp.Status)
		assert.Equal(t, 999.00, resp.Amount)
	})

	t.Run("bad checksum fails without error", func(t *testing.T) {
		resp, err := a.VerifyPayment(context.Background(), gateway.VerificationRequest{
			OrderID:     "order_v1",
			Signature:   "bogus###1",
			RawResponse: map[string]string{"response": base64.StdEncoding.EncodeToString([]byte(`{}`))},
		})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, gateway.StatusFailed, resp.Status)
	})

	t.Run("falls back to a status lookup without a callback", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "code": "PAYMENT_SUCCESS",
				"data": map[string]any{"merchantTransactionId": "order_v2", "transactionId": "T3", "amount": 500},
			})
		}))
		defer srv.Close()

		remote := newAdapter(t, srv.URL)
		resp, err := remote.VerifyPayment(context.Background(), gateway.VerificationRequest{OrderID: "order_v2"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})
}

func TestAdapter_Refund(t *testing.T) {
	t.Run("refund requires an amount", func(t *testing.T) {
		a := newAdapter(t, "")
		_, err := a.Refund(context.Background(), "T1", nil)
		assert.Error(t, err)
	})

	t.Run("refund posts signed envelope", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/pg/v1/refund", r.URL.Path)
			var envelope struct {
				Request string `json:"request"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			wantVerify := sha256Hex(envelope.Request+"/pg/v1/refund"+testSaltKey) + "###" + testSaltIndex
			assert.Equal(t, wantVerify, r.Header.Get("X-VERIFY"))

			json.NewEncoder(w).Encode(map[string]any{"success": true, "code": "PAYMENT_SUCCESS"})
		}))
		defer srv.Close()

		a := newAdapter(t, srv.URL)
		amount := 100.00
		st, err := a.Refund(context.Background(), "T1", &amount)
		require.NoError(t, err)
		assert.Equal(t, gateway.StatusRefunded, st.Status)
	})
}

func TestAdapter_TestConnection(t *testing.T) {
	t.Run("authenticated not-found still proves connectivity", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"code":"TRANSACTION_NOT_FOUND"}`))
		}))
		defer srv.Close()

		a := newAdapter(t, srv.URL)
		ok, _ := a.TestConnection(context.Background())
		assert.True(t, ok)
	})

	t.Run("rejected credentials fail the probe", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		a := newAdapter(t, srv.URL)
		ok, msg := a.TestConnection(context.Background())
		assert.False(t, ok)
		assert.Contains(t, msg, "401")
	})
}
