package models

import (
	"database/sql"
	"time"
)

// Product types
const (
	ProductTypeTemplate = "template"
	ProductTypeTool     = "tool"
)

// Product represents a digital product in the catalog
type Product struct {
	ID          int64     `db:"id" json:"id"`
	ProductType string    `db:"product_type" json:"product_type"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Price       int64     `db:"price" json:"price"`
	SourcePath  string    `db:"source_path" json:"-"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order with its financial snapshot
type Order struct {
	ID             int64          `db:"id" json:"id"`
	Status         string         `db:"status" json:"status"`
	CustomerName   string         `db:"customer_name" json:"customer_name"`
	CustomerEmail  string         `db:"customer_email" json:"customer_email"`
	CustomerPhone  string         `db:"customer_phone" json:"customer_phone,omitempty"`
	OriginalAmount int64          `db:"original_amount" json:"original_amount"`
	DiscountAmount int64          `db:"discount_amount" json:"discount_amount"`
	FinalAmount    int64          `db:"final_amount" json:"final_amount"`
	AffiliateCode  sql.NullString `db:"affiliate_code" json:"affiliate_code,omitempty"`
	SessionID      string         `db:"session_id" json:"session_id"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderItem captures a product line at the price it was sold for
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductType string `db:"product_type" json:"product_type"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
}

// Payment represents one payment attempt, keyed by its gateway reference
type Payment struct {
	ID              int64     `db:"id" json:"id"`
	OrderID         int64     `db:"order_id" json:"order_id"`
	Reference       string    `db:"reference" json:"reference"`
	Status          string    `db:"status" json:"status"`
	RequestedAmount int64     `db:"requested_amount" json:"requested_amount"`
	PaidAmount      int64     `db:"paid_amount" json:"paid_amount"`
	RawResponse     string    `db:"raw_response" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DeliveryRecord tracks fulfillment of one product within an order
type DeliveryRecord struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	ProductType    string    `db:"product_type" json:"product_type"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	DeliveryStatus string    `db:"delivery_status" json:"delivery_status"`
	Attempts       int       `db:"attempts" json:"attempts"`
	LastError      string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// SaleRecord is the commission ledger entry, one per paid order
type SaleRecord struct {
	ID               int64         `db:"id" json:"id"`
	AffiliateID      sql.NullInt64 `db:"affiliate_id" json:"affiliate_id,omitempty"`
	OrderID          int64         `db:"order_id" json:"order_id"`
	CommissionAmount int64         `db:"commission_amount" json:"commission_amount"`
	SaleAmount       int64         `db:"sale_amount" json:"sale_amount"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// Affiliate carries per-partner commission configuration and aggregates
type Affiliate struct {
	ID                int64     `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"`
	Email             string    `db:"email" json:"email"`
	CommissionRate    float64   `db:"commission_rate" json:"commission_rate"`
	PendingCommission int64     `db:"pending_commission" json:"pending_commission"`
	TotalSales        int64     `db:"total_sales" json:"total_sales"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// DomainAllocation tracks a domain name that can be assigned to one order
type DomainAllocation struct {
	ID        int64         `db:"id" json:"id"`
	Domain    string        `db:"domain" json:"domain"`
	Status    string        `db:"status" json:"status"`
	OrderID   sql.NullInt64 `db:"order_id" json:"order_id,omitempty"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// WebhookEvent is the forensic log of every raw gateway callback
type WebhookEvent struct {
	ID        int64     `db:"id" json:"id"`
	EventType string    `db:"event_type" json:"event_type"`
	Reference string    `db:"reference" json:"reference"`
	Payload   string    `db:"payload" json:"payload"`
	SourceIP  string    `db:"source_ip" json:"source_ip"`
	Verdict   string    `db:"verdict" json:"verdict"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Delivery statuses
const (
	DeliveryStatusPending      = "pending"
	DeliveryStatusPendingRetry = "pending_retry"
	DeliveryStatusDelivered    = "delivered"
	DeliveryStatusFailed       = "failed"
)

// Domain allocation statuses
const (
	DomainStatusAvailable = "available"
	DomainStatusAssigned  = "assigned"
)

// Webhook verdicts
const (
	VerdictAccepted = "accepted"
	VerdictOrphaned = "orphaned"
	VerdictRejected = "rejected"
	VerdictIgnored  = "ignored"
)

// CartContext is the explicit cart snapshot passed into checkout, keyed
// by an opaque session identifier. The core never reads ambient state.
type CartContext struct {
	SessionID       string     `json:"session_id"`
	Items           []CartItem `json:"items"`
	AffiliateCode   string     `json:"affiliate_code,omitempty"`
	DiscountPercent int        `json:"discount_percent"`
	DomainID        *int64     `json:"domain_id,omitempty"`
}

// CartItem is one line of the cart snapshot
type CartItem struct {
	ProductType string `json:"product_type"`
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
}
