package core

// escrow.go – the per-purchase escrow automaton that governs fund release
// between buyer and seller once an order is placed: Created → Funded →
// Shipped → Completed, with RefundRequested/Refunded, Disputed, and
// Cancelled side branches. Every transition is a guarded status check
// before mutation (§4.3).

import (
	"crypto/rand"
	"sync"
)

// EscrowStatus is the lifecycle state of an EscrowContract.
type EscrowStatus uint8

const (
	EscrowCreated EscrowStatus = iota
	EscrowFunded
	EscrowShipped
	EscrowCompleted
	EscrowRefundRequested
	EscrowRefunded
	EscrowDisputed
	EscrowCancelled
)

func (s EscrowStatus) String() string {
	switch s {
	case EscrowCreated:
		return "Created"
	case EscrowFunded:
		return "Funded"
	case EscrowShipped:
		return "Shipped"
	case EscrowCompleted:
		return "Completed"
	case EscrowRefundRequested:
		return "RefundRequested"
	case EscrowRefunded:
		return "Refunded"
	case EscrowDisputed:
		return "Disputed"
	case EscrowCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// EscrowContract is a per-purchase mini state machine governing fund
// release between buyer and seller (§3, §4.3).
type EscrowContract struct {
	mu sync.Mutex

	ID                Hash
	ListingID         Hash
	Buyer             PublicKey
	Seller            PublicKey
	Amount            Amount
	Status            EscrowStatus
	CreatedAt         Timestamp
	UpdatedAt         Timestamp
	TimeoutPeriodSecs uint64
	L1TxID            string
	TrackingInfo      string
	DisputeReason     string
}

// randomHash fills a Hash with crypto/rand bytes, used for escrow ids (§3:
// "id: Hash (random 32 bytes)").
func randomHash() (Hash, error) {
	var h Hash
	if _, err := rand.Read(h[:]); err != nil {
		return Hash{}, wrapErr(ErrInvalidParameter, err, "generate escrow id")
	}
	return h, nil
}

// NewEscrowContract creates an escrow in the Created state.
func NewEscrowContract(listingID Hash, buyer, seller PublicKey, amount Amount, timeoutPeriodSecs uint64, now Timestamp) (*EscrowContract, error) {
	id, err := randomHash()
	if err != nil {
		return nil, err
	}
	return &EscrowContract{
		ID:                id,
		ListingID:         listingID,
		Buyer:             buyer,
		Seller:            seller,
		Amount:            amount,
		Status:            EscrowCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
		TimeoutPeriodSecs: timeoutPeriodSecs,
	}, nil
}

// Snapshot returns a value copy safe to read without holding the escrow's
// lock.
func (e *EscrowContract) Snapshot() EscrowContract {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EscrowContract{
		ID: e.ID, ListingID: e.ListingID, Buyer: e.Buyer, Seller: e.Seller,
		Amount: e.Amount, Status: e.Status, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt,
		TimeoutPeriodSecs: e.TimeoutPeriodSecs, L1TxID: e.L1TxID,
		TrackingInfo: e.TrackingInfo, DisputeReason: e.DisputeReason,
	}
}

// IsTimedOut reports whether the escrow is Shipped and has sat past its
// timeout without buyer confirmation (§4.3).
func (e *EscrowContract) IsTimedOut(now Timestamp) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isTimedOutLocked(now)
}

func (e *EscrowContract) isTimedOutLocked(now Timestamp) bool {
	if e.Status != EscrowShipped || now < e.UpdatedAt {
		return false
	}
	return uint64(now)-uint64(e.UpdatedAt) > e.TimeoutPeriodSecs
}

func (e *EscrowContract) transitionErr(event string) error {
	return newErr(ErrInvalidStateTransition, "escrow %s: cannot %s from status %s", e.ID, event, e.Status)
}

// Fund transitions Created → Funded.
func (e *EscrowContract) Fund(l1TxID string, now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowCreated {
		return e.transitionErr("fund")
	}
	e.Status = EscrowFunded
	e.L1TxID = l1TxID
	e.UpdatedAt = now
	return nil
}

// MarkShipped transitions Funded → Shipped.
func (e *EscrowContract) MarkShipped(trackingInfo string, now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowFunded {
		return e.transitionErr("mark_shipped")
	}
	e.Status = EscrowShipped
	e.TrackingInfo = trackingInfo
	e.UpdatedAt = now
	return nil
}

// ConfirmReceipt transitions Shipped → Completed.
func (e *EscrowContract) ConfirmReceipt(now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowShipped {
		return e.transitionErr("confirm_receipt")
	}
	e.Status = EscrowCompleted
	e.UpdatedAt = now
	return nil
}

// RequestRefund transitions Funded or Shipped → RefundRequested.
func (e *EscrowContract) RequestRefund(reason string, now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowFunded && e.Status != EscrowShipped {
		return e.transitionErr("request_refund")
	}
	e.Status = EscrowRefundRequested
	e.DisputeReason = reason
	e.UpdatedAt = now
	return nil
}

// ApproveRefund transitions RefundRequested → Refunded.
func (e *EscrowContract) ApproveRefund(now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowRefundRequested {
		return e.transitionErr("approve_refund")
	}
	e.Status = EscrowRefunded
	e.UpdatedAt = now
	return nil
}

// RaiseDispute transitions Funded, Shipped, or RefundRequested →
// Disputed. Every other status, the terminal ones included, rejects it.
func (e *EscrowContract) RaiseDispute(reason string, now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowFunded && e.Status != EscrowShipped && e.Status != EscrowRefundRequested {
		return e.transitionErr("raise_dispute")
	}
	e.Status = EscrowDisputed
	e.DisputeReason = reason
	e.UpdatedAt = now
	return nil
}

// Cancel transitions Created → Cancelled.
func (e *EscrowContract) Cancel(now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Status != EscrowCreated {
		return e.transitionErr("cancel")
	}
	e.Status = EscrowCancelled
	e.UpdatedAt = now
	return nil
}

// AutoRelease transitions Shipped → Completed once the timeout has
// elapsed; fails if the escrow has not timed out.
func (e *EscrowContract) AutoRelease(now Timestamp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isTimedOutLocked(now) {
		return newErr(ErrInvalidStateTransition, "escrow %s: has not timed out", e.ID)
	}
	e.Status = EscrowCompleted
	e.UpdatedAt = now
	return nil
}
