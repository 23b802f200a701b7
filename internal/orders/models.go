package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one unit of one product bought by one buyer. Only Status changes after creation.
type Order struct {
	ID          string
	BuyerID     string // profile id
	ProductID   string
	AddressCopy string
	OrderTime   time.Time
	Status      Status
}

type Profile struct {
	ID          string
	AuthID      string
	PhoneNumber string
}

type Address struct {
	ID      string
	OwnerID string // profile id
	Line1   string
	Line2   string
	City    string
	Country string
	Zip     string
}

type Product struct {
	ID           string
	SellerAuthID string
	Name         string
	Price        decimal.Decimal
	InStock      *bool // nil means unknown
}

// Purchasable treats an unknown stock flag as in stock; only an explicit false blocks a purchase.
func (p Product) Purchasable() bool {
	return p.InStock == nil || *p.InStock
}

// CartLine is one unit of a product in a buyer's cart.
type CartLine struct {
	ID        string
	ProductID string
	InStock   *bool
}

func (l CartLine) Purchasable() bool {
	return l.InStock == nil || *l.InStock
}

// OrderRef carries what a status change needs to know about an order.
type OrderRef struct {
	ID           string
	BuyerAuthID  string
	SellerAuthID string
	Status       Status
}

// OrderRow is an order joined with its product, as listed to buyers and sellers.
type OrderRow struct {
	ID          string
	BuyerID     string
	ProductID   string
	ProductName string
	Price       decimal.Decimal
	InStock     *bool
	AddressCopy string
	OrderTime   time.Time
	Status      Status
}

type ListQuery struct {
	BuyerAuthID  string
	SellerAuthID string
	Limit        int
	Offset       int
}

type OrderView struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	Price           decimal.Decimal `json:"price"`
	InStock         *bool           `json:"inStock"`
	AddressCopy     string          `json:"addressCopy"`
	OrderTime       time.Time       `json:"orderTime"`
	OrderStatus     int             `json:"orderStatus"`
	OrderStatusName string          `json:"orderStatusName"`
}

func newOrderView(r OrderRow) OrderView {
	return OrderView{
		ID:              r.ID,
		UserID:          r.BuyerID,
		ProductID:       r.ProductID,
		ProductName:     r.ProductName,
		Price:           r.Price,
		InStock:         r.InStock,
		AddressCopy:     r.AddressCopy,
		OrderTime:       r.OrderTime,
		OrderStatus:     r.Status.Public(),
		OrderStatusName: r.Status.String(),
	}
}

type Page struct {
	Orders             []OrderView `json:"orders"`
	TotalProductCount  int         `json:"totalProductCount"`
	OnPageProductCount int         `json:"onPageProductCount"`
	TotalPageCount     int         `json:"totalPageCount"`
	CurrentPage        int         `json:"currentPage"`
}

// HistoryEntry records one observed status of an order. From is nil for the creation entry.
type HistoryEntry struct {
	EventID    string
	OrderID    string
	From       *Status
	To         Status
	ActorID    string
	OccurredAt time.Time
}

type HistoryView struct {
	From       *int      `json:"from,omitempty"`
	FromName   string    `json:"fromName,omitempty"`
	To         int       `json:"to"`
	ToName     string    `json:"toName"`
	ActorID    string    `json:"actorId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func newHistoryView(e HistoryEntry) HistoryView {
	v := HistoryView{
		To:         e.To.Public(),
		ToName:     e.To.String(),
		ActorID:    e.ActorID,
		OccurredAt: e.OccurredAt,
	}
	if e.From != nil {
		from := e.From.Public()
		v.From = &from
		v.FromName = e.From.String()
	}
	return v
}
