package events

import (
	"fmt"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode serialises e as a protobuf Struct for the Kafka relay.
func Encode(e Event) ([]byte, error) {
	fields := map[string]any{
		"id":        e.ID.String(),
		"type":      string(e.Type),
		"symbol":    e.Symbol,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Order != nil {
		fields["order"] = orderFields(e.Order)
	}
	if e.Trade != nil {
		fields["trade"] = tradeFields(e.Trade)
	}
	if e.Session != nil {
		fields["session"] = map[string]any{
			"mode":  string(e.Session.Mode),
			"phase": string(e.Session.Phase),
		}
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build event struct: %w", err)
	}
	return proto.Marshal(s)
}

// Decode parses a payload produced by Encode.
func Decode(b []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

func orderFields(o *domain.Order) map[string]any {
	m := map[string]any{
		"order_id":           o.OrderID,
		"account_id":         o.AccountID,
		"symbol":             o.Symbol,
		"side":               string(o.Side),
		"type":               string(o.Type),
		"price":              o.Price,
		"quantity":           o.Quantity,
		"filled_quantity":    o.FilledQuantity,
		"remaining_quantity": o.RemainingQuantity,
		"status":             string(o.Status),
		"placed_at":          o.PlacedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.CancelledAt != nil {
		m["cancelled_at"] = o.CancelledAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func tradeFields(t *domain.Trade) map[string]any {
	return map[string]any{
		"trade_id":      t.TradeID,
		"symbol":        t.Symbol,
		"buy_order_id":  t.BuyOrderID,
		"sell_order_id": t.SellOrderID,
		"buyer_id":      t.BuyerID,
		"seller_id":     t.SellerID,
		"price":         t.Price,
		"quantity":      t.Quantity,
		"phase":         string(t.Phase),
		"executed_at":   t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	}
}
