package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canonical fulfillment workflow, traversed strictly in order. The final
// "Delivered" stage is completed by buyer receipt confirmation only.
const (
	StageOrderPlaced    = "Order Placed"
	StagePaymentPending = "Payment Pending"
	StageProcessing     = "Processing"
	StageShipped        = "Shipped"
	StageOutForDelivery = "Out for Delivery"
	StageDelivered      = "Delivered"

	StatusConfirmedReceived = "Confirmed Received"
)

type Stage struct {
	Name      string     `json:"name"`
	Completed bool       `json:"completed"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DeliveryInfo is carried on new orders as its own field; on legacy records
// it hides inside the stage history and is extracted during parsing.
type DeliveryInfo struct {
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

type OrderLine struct {
	ProductID string          `json:"productID"`
	VariantID string          `json:"variantID,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Order struct {
	ID        int
	Number    string
	OwnerID   int
	Items     []OrderLine
	RawStages []byte
	Stages    []Stage
	Delivery  *DeliveryInfo
	Status    string
	Total     decimal.Decimal
	CreatedAt time.Time
}

type CheckoutInput struct {
	Address      string `json:"address"`
	Instructions string `json:"instructions,omitempty"`
}

type OrderOutput struct {
	Number    string          `json:"number"`
	Status    string          `json:"status"`
	Items     []OrderLine     `json:"items"`
	Stages    []Stage         `json:"stages"`
	Delivery  *DeliveryInfo   `json:"delivery,omitempty"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
}
