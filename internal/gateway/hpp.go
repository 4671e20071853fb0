package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"ms-reconciler/internal/config"
	"ms-reconciler/internal/models"
)

// HPPBuilder constructs the signed form fields for the gateway's hosted
// payment page. The shopper is sent there and comes back through a
// notification, so the merchant reference in these fields is the correlation
// key the resolver later matches against.
type HPPBuilder struct {
	baseURL    string
	merchantID string
	secret     []byte
	validity   time.Duration
}

func NewHPPBuilder(cfg config.GatewayConfig) *HPPBuilder {
	return &HPPBuilder{
		baseURL:    cfg.HPPBaseURL,
		merchantID: cfg.MerchantID,
		secret:     []byte(cfg.HMACSecret),
		validity:   24 * time.Hour,
	}
}

// Build returns the redirect URL, its signed form fields, and a QR rendering
// of the URL for point-of-sale display.
func (b *HPPBuilder) Build(req models.RedirectRequest) (*models.RedirectResponse, error) {
	fields := map[string]string{
		"merchantAccount":   b.merchantID,
		"merchantReference": req.MerchantReference,
		"paymentAmount":     strconv.FormatInt(req.Amount, 10),
		"currencyCode":      req.Currency,
		"sessionValidity":   time.Now().Add(b.validity).UTC().Format(time.RFC3339),
	}
	if req.PaymentMethod != "" {
		fields["allowedMethods"] = req.PaymentMethod
	}
	if req.OneStep {
		fields["authResult"] = "SALE"
	}
	fields["merchantSig"] = b.sign(fields)

	query := url.Values{}
	for key, value := range fields {
		query.Set(key, value)
	}
	redirectURL := b.baseURL + "?" + query.Encode()

	png, err := qrcode.Encode(redirectURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to render redirect QR code: %w", err)
	}

	return &models.RedirectResponse{
		RedirectURL: redirectURL,
		FormFields:  fields,
		QRCodePNG:   png,
	}, nil
}

// sign computes the HMAC-SHA256 form signature over the fields in key order,
// the format the hosted page verifies.
func (b *HPPBuilder) sign(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var payload strings.Builder
	for _, key := range keys {
		payload.WriteString(key)
		payload.WriteByte(':')
		payload.WriteString(fields[key])
		payload.WriteByte(':')
	}

	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
