package shared

// TransactionType is the kind of money movement a wallet transaction records.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeEscrow     TransactionType = "escrow"
	TransactionTypeRelease    TransactionType = "release"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeEscrow, TransactionTypeRelease,
		TransactionTypeRefund, TransactionTypeWithdrawal:
		return true
	}
	return false
}

// TransactionStatus defines wallet transaction states. Only completed rows count toward balance.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// EventType names the outbox events emitted by escrow transitions.
type EventType string

const (
	EventEscrowCreated          EventType = "escrow.created"
	EventEscrowReleased         EventType = "escrow.released"
	EventEscrowRefunded         EventType = "escrow.refunded"
	EventHonorTransitioned      EventType = "escrow.honor_transitioned"
	EventReconciliationRequired EventType = "escrow.reconciliation_required"
	EventWebhookReceived        EventType = "payment.webhook_received"
)

// Operation names used for idempotency records and metrics labels.
const (
	OperationCreateEscrow  = "escrow.create"
	OperationReleaseEscrow = "escrow.release"
	OperationRefundEscrow  = "escrow.refund"
	OperationWebhook       = "payment.webhook"
	OperationCreateIntent  = "payment.intent"
)
