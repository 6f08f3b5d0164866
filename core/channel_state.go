package core

// channel_state.go – the replicated off-chain state of one channel and the
// balance-preserving rules for applying a StateUpdate to it. Every Apply
// call is pure and checked: balances, in-flight order amounts, and the
// nonce all move together or not at all.

import "fmt"

// OrderStatus is the lifecycle marker of a marketplace Order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderConfirmed
	OrderShipping
	OrderDelivered
	OrderDisputed
	OrderCompleted
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "Pending"
	case OrderConfirmed:
		return "Confirmed"
	case OrderShipping:
		return "Shipping"
	case OrderDelivered:
		return "Delivered"
	case OrderDisputed:
		return "Disputed"
	case OrderCompleted:
		return "Completed"
	case OrderCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("OrderStatus(%d)", uint8(s))
	}
}

// orderInFlight reports whether funds committed to an order of this status
// still count toward the channel's conservation invariant (§3: "escrowed
// order funds count once").
func (s OrderStatus) orderInFlight() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderShipping:
		return true
	default:
		return false
	}
}

// Listing is a good advertised for sale within a channel or globally.
type Listing struct {
	ID          Hash
	Seller      PublicKey
	Title       string
	Description string
	Price       Amount
	IPFSHash    string
	Active      bool
}

// Order is a buyer's commitment to purchase a Listing.
type Order struct {
	ID        Hash
	ListingID Hash
	Buyer     PublicKey
	Seller    PublicKey
	Amount    Amount
	Status    OrderStatus
}

// ChannelState is the replicated off-chain state of one channel.
type ChannelState struct {
	Nonce    uint64
	Balances map[PublicKey]Amount
	Listings []Listing
	Orders   []Order
}

// NewChannelState builds the initial state for a freshly opened channel.
func NewChannelState(initialBalances map[PublicKey]Amount) ChannelState {
	balances := make(map[PublicKey]Amount, len(initialBalances))
	for k, v := range initialBalances {
		balances[k] = v
	}
	return ChannelState{
		Nonce:    0,
		Balances: balances,
		Listings: nil,
		Orders:   nil,
	}
}

// clone returns a deep copy, so apply() can mutate freely and return a new
// state on success without touching the original on failure.
func (s ChannelState) clone() ChannelState {
	balances := make(map[PublicKey]Amount, len(s.Balances))
	for k, v := range s.Balances {
		balances[k] = v
	}
	listings := make([]Listing, len(s.Listings))
	copy(listings, s.Listings)
	orders := make([]Order, len(s.Orders))
	copy(orders, s.Orders)
	return ChannelState{Nonce: s.Nonce, Balances: balances, Listings: listings, Orders: orders}
}

func (s ChannelState) findListing(id Hash) (int, bool) {
	for i, l := range s.Listings {
		if l.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (s ChannelState) findOrder(id Hash) (int, bool) {
	for i, o := range s.Orders {
		if o.ID == id {
			return i, true
		}
	}
	return 0, false
}

// UpdateKind tags which variant of StateUpdate is populated.
type UpdateKind uint8

const (
	UpdateTransfer UpdateKind = iota
	UpdateCreateListing
	UpdateUpdateListing
	UpdateCreateOrder
	UpdateOrderStatusChange
)

// TransferUpdate moves amount from From to To.
type TransferUpdate struct {
	From, To PublicKey
	Amount   Amount
}

// CreateListingUpdate appends a new Listing.
type CreateListingUpdate struct {
	Listing Listing
}

// UpdateListingUpdate flips a listing's active flag.
type UpdateListingUpdate struct {
	ListingID Hash
	Active    bool
}

// CreateOrderUpdate appends a new Order against an active listing.
type CreateOrderUpdate struct {
	Order Order
}

// UpdateOrderStatusUpdate rewrites an order's status in place.
type UpdateOrderStatusUpdate struct {
	OrderID Hash
	Status  OrderStatus
}

// StateUpdate is a tagged union of the channel transition variants (§4.1).
// Only the field matching Kind is populated.
type StateUpdate struct {
	Kind              UpdateKind
	Transfer          TransferUpdate
	CreateListing     CreateListingUpdate
	UpdateListing     UpdateListingUpdate
	CreateOrder       CreateOrderUpdate
	UpdateOrderStatus UpdateOrderStatusUpdate
}

// NewTransfer builds a Transfer StateUpdate.
func NewTransfer(from, to PublicKey, amount Amount) StateUpdate {
	return StateUpdate{Kind: UpdateTransfer, Transfer: TransferUpdate{From: from, To: to, Amount: amount}}
}

// NewCreateListing builds a CreateListing StateUpdate.
func NewCreateListing(l Listing) StateUpdate {
	return StateUpdate{Kind: UpdateCreateListing, CreateListing: CreateListingUpdate{Listing: l}}
}

// NewUpdateListing builds an UpdateListing StateUpdate.
func NewUpdateListing(listingID Hash, active bool) StateUpdate {
	return StateUpdate{Kind: UpdateUpdateListing, UpdateListing: UpdateListingUpdate{ListingID: listingID, Active: active}}
}

// NewCreateOrder builds a CreateOrder StateUpdate.
func NewCreateOrder(o Order) StateUpdate {
	return StateUpdate{Kind: UpdateCreateOrder, CreateOrder: CreateOrderUpdate{Order: o}}
}

// NewUpdateOrderStatus builds an UpdateOrderStatus StateUpdate.
func NewUpdateOrderStatus(orderID Hash, status OrderStatus) StateUpdate {
	return StateUpdate{Kind: UpdateOrderStatusChange, UpdateOrderStatus: UpdateOrderStatusUpdate{OrderID: orderID, Status: status}}
}

// Apply is the pure balance-preserving transition function: given a state
// and an update, it returns the new state on success, leaving the input
// untouched on failure. Every successful apply increments Nonce by exactly
// one (§4.1).
func Apply(state ChannelState, update StateUpdate) (ChannelState, error) {
	next := state.clone()

	switch update.Kind {
	case UpdateTransfer:
		t := update.Transfer
		from := next.Balances[t.From]
		if from < t.Amount {
			return ChannelState{}, newInsufficientBalance(t.Amount, from)
		}
		newFrom, err := from.Sub(t.Amount)
		if err != nil {
			return ChannelState{}, wrapErr(ErrInvalidStateTransition, err, "transfer debit")
		}
		next.Balances[t.From] = newFrom
		newTo, err := next.Balances[t.To].Add(t.Amount)
		if err != nil {
			return ChannelState{}, wrapErr(ErrInvalidStateTransition, err, "transfer credit")
		}
		next.Balances[t.To] = newTo

	case UpdateCreateListing:
		l := update.CreateListing.Listing
		if _, exists := next.findListing(l.ID); exists {
			return ChannelState{}, newErr(ErrInvalidStateTransition, "listing %s already exists", l.ID)
		}
		next.Listings = append(next.Listings, l)

	case UpdateUpdateListing:
		u := update.UpdateListing
		idx, ok := next.findListing(u.ListingID)
		if !ok {
			return ChannelState{}, newErr(ErrInvalidStateTransition, "listing %s not found", u.ListingID)
		}
		next.Listings[idx].Active = u.Active

	case UpdateCreateOrder:
		o := update.CreateOrder.Order
		idx, ok := next.findListing(o.ListingID)
		if !ok || !next.Listings[idx].Active {
			return ChannelState{}, newErr(ErrInvalidStateTransition, "listing %s missing or inactive", o.ListingID)
		}
		buyerBalance := next.Balances[o.Buyer]
		if buyerBalance < o.Amount {
			return ChannelState{}, newInsufficientBalance(o.Amount, buyerBalance)
		}
		if _, exists := next.findOrder(o.ID); exists {
			return ChannelState{}, newErr(ErrInvalidStateTransition, "order %s already exists", o.ID)
		}
		next.Orders = append(next.Orders, o)

	case UpdateOrderStatusChange:
		u := update.UpdateOrderStatus
		idx, ok := next.findOrder(u.OrderID)
		if !ok {
			return ChannelState{}, newErr(ErrInvalidStateTransition, "order %s not found", u.OrderID)
		}
		order := next.Orders[idx]
		if order.Status == u.Status {
			// same-to-same transition: no-op write, nonce still advances.
			next.Orders[idx].Status = u.Status
			break
		}
		if u.Status == OrderCompleted {
			buyerBalance := next.Balances[order.Buyer]
			newBuyer, err := buyerBalance.Sub(order.Amount)
			if err != nil {
				return ChannelState{}, newInsufficientBalance(order.Amount, buyerBalance)
			}
			next.Balances[order.Buyer] = newBuyer
			newSeller, err := next.Balances[order.Seller].Add(order.Amount)
			if err != nil {
				return ChannelState{}, wrapErr(ErrInvalidStateTransition, err, "order completion credit")
			}
			next.Balances[order.Seller] = newSeller
		}
		next.Orders[idx].Status = u.Status

	default:
		return ChannelState{}, newErr(ErrInvalidStateTransition, "unknown update kind %d", update.Kind)
	}

	next.Nonce = state.Nonce + 1
	return next, nil
}

// TotalConserved sums balances plus the amount of every still-in-flight
// order, for the Conservation invariant (§3/§8).
func (s ChannelState) TotalConserved() (Amount, error) {
	var total Amount
	var err error
	for _, v := range s.Balances {
		total, err = total.Add(v)
		if err != nil {
			return 0, err
		}
	}
	for _, o := range s.Orders {
		if o.Status.orderInFlight() {
			total, err = total.Add(o.Amount)
			if err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}
