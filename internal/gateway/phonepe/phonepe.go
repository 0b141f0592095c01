// Package phonepe implements the gateway contract for PhonePe.
//
// Checksum scheme per PhonePe's documentation: every call carries an X-VERIFY
// header of the form sha256(base64Body + apiPath + saltKey) + "###" +
// saltIndex; status calls sign the path alone, and webhook callbacks sign the
// base64 response body alone. The scheme is isolated here; nothing outside
// this package may assume it.
package phonepe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/boxcostpro/payment-gateway/internal/gateway"
)

const (
	productionBaseURL = "https://api.phonepe.com/apis/hermes"
	sandboxBaseURL    = "https://api-preprod.phonepe.com/apis/pg-sandbox"

	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"
	refundPath = "/pg/v1/refund"

	defaultTimeout = 15 * time.Second
)

// codeTable maps PhonePe response codes onto the normalized enum.
var codeTable = map[string]gateway.Status{
	"PAYMENT_SUCCESS":   gateway.StatusCaptured,
	"PAYMENT_PENDING":   gateway.StatusPending,
	"PAYMENT_INITIATED": gateway.StatusCreated,
	"PAYMENT_DECLINED":  gateway.StatusFailed,
	"PAYMENT_ERROR":     gateway.StatusFailed,
	"TIMED_OUT":         gateway.StatusFailed,
}

// Adapter implements gateway.Gateway for PhonePe. UPI-first and INR-only.
type Adapter struct {
	httpClient  *http.Client
	apiBaseURL  string
	creds       gateway.Credentials
	initialized bool
}

// New creates an uninitialized PhonePe adapter.
func New(client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{httpClient: client}
}

// SetBaseURL points the adapter at a different API host. Test hook.
func (a *Adapter) SetBaseURL(u string) { a.apiBaseURL = u }

func (a *Adapter) Name() string                  { return "PhonePe" }
func (a *Adapter) Type() gateway.Type            { return gateway.TypePhonePe }
func (a *Adapter) SupportsUPI() bool             { return true }
func (a *Adapter) SupportsInternational() bool   { return false }
func (a *Adapter) SupportedCurrencies() []string { return []string{"INR"} }

// Initialize validates merchant id, salt key and salt index, and binds the
// adapter to one environment's endpoint set.
func (a *Adapter) Initialize(creds gateway.Credentials) error {
	if creds.MerchantID == "" || creds.SaltKey == "" || creds.SaltIndex == "" {
		return fmt.Errorf("phonepe: merchant id, salt key and salt index are required: %w", gateway.ErrMissingCredentials)
	}
	a.creds = creds
	if a.apiBaseURL == "" {
		if creds.Environment == gateway.EnvProduction {
			a.apiBaseURL = productionBaseURL
		} else {
			a.apiBaseURL = sandboxBaseURL
		}
	}
	a.initialized = true
	return nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type payData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	InstrumentResponse    struct {
		RedirectInfo struct {
			URL string `json:"url"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

type statusData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
}

// CreateOrder initiates a PAY_PAGE transaction. INR only; amount converted to
// paise. The checkout redirect URL is returned in GatewayData.
func (a *Adapter) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	if req.Currency != "INR" {
		return nil, fmt.Errorf("phonepe: unsupported currency %q, only INR is accepted", req.Currency)
	}

	orderID := "order_" + uuid.NewString()
	payload := map[string]any{
		"merchantId":            a.creds.MerchantID,
		"merchantTransactionId": orderID,
		"merchantUserId":        req.UserID,
		"amount":                int64(math.Round(req.Amount * 100)),
		"paymentInstrument":     map[string]string{"type": "PAY_PAGE"},
	}
	if cb, ok := req.Metadata["callbackUrl"]; ok {
		payload["callbackUrl"] = cb
	}

	var out apiResponse
	if err := a.post(ctx, payPath, payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("phonepe: order rejected: %s (%s)", out.Message, out.Code)
	}

	var data payData
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return nil, fmt.Errorf("phonepe: decode pay response: %w", err)
	}

	return &gateway.OrderResponse{
		OrderID:        orderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		GatewayOrderID: data.MerchantTransactionID,
		GatewayData: map[string]string{
			"redirectUrl": data.InstrumentResponse.RedirectInfo.URL,
		},
	}, nil
}

// VerifyPayment verifies the X-VERIFY checksum over the base64 callback
// response when the caller supplies one; without it, falls back to a
// read-only status lookup. Either path is idempotent.
func (a *Adapter) VerifyPayment(ctx context.Context, req gateway.VerificationRequest) (*gateway.VerificationResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}

	if encoded, ok := req.RawResponse["response"]; ok && encoded != "" {
		expected := a.checksum(encoded)
		if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
			return &gateway.VerificationResponse{
				Success: false,
				Status:  gateway.StatusFailed,
				OrderID: req.OrderID,
			}, nil
		}
		data, code, err := decodeCallback(encoded)
		if err != nil {
			return nil, err
		}
		status := gateway.MapStatus(codeTable, code)
		return &gateway.VerificationResponse{
			Success:   status == gateway.StatusCaptured,
			Status:    status,
			OrderID:   data.MerchantTransactionID,
			PaymentID: data.TransactionID,
			Amount:    float64(data.Amount) / 100,
		}, nil
	}

	st, err := a.OrderStatus(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &gateway.VerificationResponse{
		Success:   st.Status == gateway.StatusCaptured,
		Status:    st.Status,
		OrderID:   st.OrderID,
		PaymentID: st.PaymentID,
		Amount:    st.Amount,
	}, nil
}

// PaymentStatus resolves through the transaction status endpoint; PhonePe
// keys status lookups by merchant transaction id.
func (a *Adapter) PaymentStatus(ctx context.Context, paymentID string) (*gateway.StatusResponse, error) {
	return a.OrderStatus(ctx, paymentID)
}

// OrderStatus queries /pg/v1/status/{merchantId}/{orderID}.
func (a *Adapter) OrderStatus(ctx context.Context, orderID string) (*gateway.StatusResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}

	path := fmt.Sprintf("%s/%s/%s", statusPath, a.creds.MerchantID, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("phonepe: build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", a.pathChecksum(path))
	req.Header.Set("X-MERCHANT-ID", a.creds.MerchantID)

	var out apiResponse
	if err := a.send(req, &out); err != nil {
		return nil, err
	}

	var data statusData
	if len(out.Data) > 0 {
		if err := json.Unmarshal(out.Data, &data); err != nil {
			return nil, fmt.Errorf("phonepe: decode status response: %w", err)
		}
	}
	return &gateway.StatusResponse{
		OrderID:      data.MerchantTransactionID,
		PaymentID:    data.TransactionID,
		Status:       gateway.MapStatus(codeTable, out.Code),
		NativeStatus: out.Code,
		Amount:       float64(data.Amount) / 100,
		Currency:     "INR",
	}, nil
}

// VerifyWebhook validates sha256(base64Response + saltKey) + "###" +
// saltIndex against the X-VERIFY header. The body shape {"response": base64}
// is only parsed after the checksum holds.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) (*gateway.WebhookResult, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}

	var body struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Response == "" {
		return &gateway.WebhookResult{IsValid: false}, nil
	}

	expected := a.checksum(body.Response)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return &gateway.WebhookResult{IsValid: false}, nil
	}

	data, code, err := decodeCallback(body.Response)
	if err != nil {
		return &gateway.WebhookResult{IsValid: true}, nil
	}
	return &gateway.WebhookResult{
		IsValid:   true,
		Event:     code,
		OrderID:   data.MerchantTransactionID,
		PaymentID: data.TransactionID,
		Status:    gateway.MapStatus(codeTable, code),
	}, nil
}

// Refund issues a refund against the original transaction. PhonePe requires
// an explicit amount, so a nil amount cannot be resolved locally; callers
// wanting a full refund must pass the original amount.
func (a *Adapter) Refund(ctx context.Context, paymentID string, amount *float64) (*gateway.StatusResponse, error) {
	if !a.initialized {
		return nil, gateway.ErrNotInitialized
	}
	if amount == nil {
		return nil, fmt.Errorf("phonepe: refund amount is required")
	}

	payload := map[string]any{
		"merchantId":            a.creds.MerchantID,
		"merchantTransactionId": "refund_" + uuid.NewString(),
		"originalTransactionId": paymentID,
		"amount":                int64(math.Round(*amount * 100)),
	}
	var out apiResponse
	if err := a.post(ctx, refundPath, payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("phonepe: refund rejected: %s (%s)", out.Message, out.Code)
	}
	return &gateway.StatusResponse{
		PaymentID:    paymentID,
		Status:       gateway.StatusRefunded,
		NativeStatus: out.Code,
		Amount:       *amount,
		Currency:     "INR",
	}, nil
}

// TestConnection probes the status endpoint with a synthetic transaction id.
// Any authenticated response, including "not found", proves connectivity and
// salt-key acceptance.
func (a *Adapter) TestConnection(ctx context.Context) (bool, string) {
	if !a.initialized {
		return false, "phonepe: not initialized"
	}

	path := fmt.Sprintf("%s/%s/%s", statusPath, a.creds.MerchantID, "connectivity-probe")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBaseURL+path, nil)
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("X-VERIFY", a.pathChecksum(path))
	req.Header.Set("X-MERCHANT-ID", a.creds.MerchantID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Sprintf("phonepe: credentials rejected, HTTP %d", resp.StatusCode)
	}
	return true, "phonepe: connection ok"
}

// post wraps a request body in the base64 envelope with its X-VERIFY header.
func (a *Adapter) post(ctx context.Context, path string, payload any, out *apiResponse) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("phonepe: encode request: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return fmt.Errorf("phonepe: encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("phonepe: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", a.requestChecksum(encoded, path))

	return a.send(req, out)
}

func (a *Adapter) send(req *http.Request, out *apiResponse) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("phonepe: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("phonepe: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("phonepe: %s (%s), HTTP %d", apiErr.Message, apiErr.Code, resp.StatusCode)
		}
		return fmt.Errorf("phonepe: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("phonepe: decode response: %w", err)
	}
	return nil
}

func decodeCallback(encoded string) (statusData, string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return statusData{}, "", fmt.Errorf("phonepe: decode callback: %w", err)
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return statusData{}, "", fmt.Errorf("phonepe: parse callback: %w", err)
	}
	var data statusData
	if len(out.Data) > 0 {
		if err := json.Unmarshal(out.Data, &data); err != nil {
			return statusData{}, out.Code, fmt.Errorf("phonepe: parse callback data: %w", err)
		}
	}
	return data, out.Code, nil
}

// requestChecksum signs base64Body + path; the fixed "###" suffix token and
// salt index are part of PhonePe's documented header format.
func (a *Adapter) requestChecksum(encodedBody, path string) string {
	return sha256Hex(encodedBody+path+a.creds.SaltKey) + "###" + a.creds.SaltIndex
}

// pathChecksum signs the path alone (status endpoint variant).
func (a *Adapter) pathChecksum(path string) string {
	return sha256Hex(path+a.creds.SaltKey) + "###" + a.creds.SaltIndex
}

// checksum signs a base64 response body alone (callback variant).
func (a *Adapter) checksum(encodedBody string) string {
	return sha256Hex(encodedBody+a.creds.SaltKey) + "###" + a.creds.SaltIndex
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
