package models

// PaymentRequest is the merchant-facing request for a synchronous gateway
// operation (authorize, capture, refund, void, credit).
type PaymentRequest struct {
	AccountID      string            `json:"account_id"`
	TenantID       string            `json:"tenant_id"`
	PaymentID      string            `json:"payment_id,omitempty"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	Kind           TransactionKind   `json:"kind"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
}

// RedirectRequest starts a hosted-page flow. No gateway reference exists yet;
// the merchant reference becomes the correlation key notifications resolve by.
type RedirectRequest struct {
	AccountID         string `json:"account_id"`
	TenantID          string `json:"tenant_id"`
	MerchantReference string `json:"merchant_reference"`
	PaymentID         string `json:"payment_id,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	OneStep           bool   `json:"one_step"`
}

// RedirectResponse carries the signed hosted-page form fields plus a QR
// rendering of the redirect URL for point-of-sale display.
type RedirectResponse struct {
	RedirectURL string            `json:"redirect_url"`
	FormFields  map[string]string `json:"form_fields"`
	QRCodePNG   []byte            `json:"qr_code_png,omitempty"`
}
