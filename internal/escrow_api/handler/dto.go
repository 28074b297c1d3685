package handler

// CreatePaymentIntentRequest represents a request to create a payment intent.
// Amount bounds are checked by the service so the message names the limit.
type CreatePaymentIntentRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency" binding:"omitempty,len=3"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type PaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type CreateEscrowRequest struct {
	BountyID        string `json:"bountyId"`
	Amount          int64  `json:"amount"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	IdempotencyKey  string `json:"idempotencyKey,omitempty"`
}

type ReleaseEscrowRequest struct {
	BountyID       string `json:"bountyId"`
	HunterID       string `json:"hunterId"`
	Destination    string `json:"destination,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type RefundRequest struct {
	BountyID       string `json:"bountyId"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type BalanceResponse struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// TransactionResponse represents a wallet transaction in API responses
type TransactionResponse struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	BountyID         string `json:"bountyId,omitempty"`
	GatewayReference string `json:"gatewayReference,omitempty"`
	Description      string `json:"description,omitempty"`
	CreatedAt        string `json:"createdAt"`
}

// TransactionListResponse represents a list of transactions in API responses
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}
