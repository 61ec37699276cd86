package tools

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// DeliveryStatusTool reports the delivery status of customer orders.
// Statuses come from a fixed in-memory table; in a real deployment this
// would query the order database.
type DeliveryStatusTool struct {
	statuses map[string]string
}

// NewDeliveryStatusTool creates the delivery-status tool with its mock
// order table.
func NewDeliveryStatusTool() *DeliveryStatusTool {
	return &DeliveryStatusTool{
		statuses: map[string]string{
			"ORD-123": "Shipped - Arriving Tomorrow",
			"ORD-456": "Processing - Warehouse",
			"ORD-999": "Delivered - Front Porch",
		},
	}
}

// Name implements Tool.
func (t *DeliveryStatusTool) Name() string { return "get_delivery_status" }

// Description implements Tool.
func (t *DeliveryStatusTool) Description() string {
	return "Get the delivery status of a customer order"
}

// Parameters implements Tool.
func (t *DeliveryStatusTool) Parameters() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"order_id": {
				Type:        jsonschema.String,
				Description: "The order ID, e.g., ORD-123",
			},
		},
		Required: []string{"order_id"},
	}
}

// Announce implements Announcer, naming the order that was looked up.
func (t *DeliveryStatusTool) Announce(args map[string]any) string {
	orderID, ok := args["order_id"].(string)
	if !ok || orderID == "" {
		return ""
	}
	return "checked order " + orderID
}

// Execute implements Tool.
func (t *DeliveryStatusTool) Execute(_ context.Context, args map[string]any) (string, error) {
	orderID, ok := args["order_id"].(string)
	if !ok {
		return "", fmt.Errorf("order_id must be a string")
	}

	status, ok := t.statuses[orderID]
	if !ok {
		return "Order not found.", nil
	}
	return status, nil
}

// RegisterBuiltinTools registers every builtin tool on the registry.
func RegisterBuiltinTools(registry *Registry) {
	registry.Register(NewDeliveryStatusTool())
}
