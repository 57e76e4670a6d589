package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"context"

	"github.com/cockroachdb/errors"
	"github.com/showgrid/booking-engine/internal/domain"
	"github.com/showgrid/booking-engine/internal/observability"
)

// GatewayConfirmation is the client-signed callback delivered out of band
// after the user finishes paying on the gateway's page.
type GatewayConfirmation struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type GatewayClient interface {
	CreateOrder(ctx context.Context, amount int64, currency string) (string, error)
}

// HTTPGatewayClient talks to the external payment gateway's order API.
type HTTPGatewayClient struct {
	baseURL string
	keyID   string
	httpc   *http.Client
	logger  observability.Logger
}

func NewHTTPGatewayClient(baseURL, keyID string, logger observability.Logger) *HTTPGatewayClient {
	return &HTTPGatewayClient{
		baseURL: baseURL,
		keyID:   keyID,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *HTTPGatewayClient) CreateOrder(ctx context.Context, amount int64, currency string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"amount":   amount,
		"currency": currency,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Key-Id", c.keyID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "gateway create order")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("gateway declined order, status ", resp.StatusCode)
		return "", domain.ErrGatewayDeclined
	}

	var body struct {
		OrderID string `json:"order_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "gateway order response")
	}
	if body.OrderID == "" {
		return "", domain.ErrGatewayDeclined
	}
	return body.OrderID, nil
}

// Verifier validates gateway callback signatures. An unverified callback
// must never settle a booking.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) Verifier {
	return Verifier{secret: []byte(secret)}
}

// Verify checks the HMAC-SHA256 signature over "orderID|paymentID".
func (v Verifier) Verify(conf GatewayConfirmation) error {
	if conf.OrderID == "" || conf.PaymentID == "" {
		return domain.ErrInvalidInput
	}
	want := v.Sign(conf.OrderID, conf.PaymentID)
	if !hmac.Equal([]byte(want), []byte(conf.Signature)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}

func (v Verifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
