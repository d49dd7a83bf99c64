package history

import (
	"fmt"

	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/order"
	"github.com/jpkontreras/orderflow/ordersession"
)

// Describe returns a human-readable one-line description of an event for
// timeline display.
func Describe(evt event.Event) string {
	switch data := evt.Data().(type) {
	case ordersession.StartedData:
		return "session started"
	case ordersession.ItemAddedData:
		return fmt.Sprintf("added %dx %s to cart (%s each)", data.Quantity, data.Name, money(data.UnitPrice))
	case ordersession.ItemRemovedData:
		return fmt.Sprintf("removed %s from cart", data.ItemID)
	case ordersession.ItemModifiedData:
		return fmt.Sprintf("changed %s to quantity %d", data.ItemID, data.Quantity)
	case ordersession.CustomerInfoData:
		if data.Name != "" {
			return fmt.Sprintf("customer info entered for %s", data.Name)
		}
		return "customer info entered"
	case ordersession.ServingTypeData:
		return fmt.Sprintf("serving type set to %s", data.ServingType)
	case ordersession.PaymentMethodData:
		return fmt.Sprintf("payment method set to %s", data.Method)
	case ordersession.ConvertedData:
		return fmt.Sprintf("session converted into order %s", data.OrderID)
	case ordersession.AbandonedData:
		if data.Reason != "" {
			return fmt.Sprintf("session abandoned (%s)", data.Reason)
		}
		return "session abandoned"
	case order.CreatedData:
		return fmt.Sprintf("order created with %d lines, subtotal %s", len(data.Lines), money(data.Subtotal))
	case order.ItemsAddedData:
		return fmt.Sprintf("%d lines added to order", len(data.Lines))
	case order.ItemsValidatedData:
		return fmt.Sprintf("%d lines validated against catalog", data.LineCount)
	case order.PromotionsCalculatedData:
		return fmt.Sprintf("%d promotions calculated", len(data.Promotions))
	case order.PromotionAppliedData:
		return fmt.Sprintf("promotion %s applied (-%s)", data.Promotion.ID, money(data.Promotion.DiscountAmount))
	case order.PromotionRemovedData:
		return fmt.Sprintf("promotion %s removed", data.PromotionID)
	case order.TipAddedData:
		return fmt.Sprintf("tip of %s added", money(data.Amount))
	case order.PaymentReceivedData:
		if data.Method != "" {
			return fmt.Sprintf("payment received via %s", data.Method)
		}
		return "payment received"
	case order.ItemStatusData:
		return fmt.Sprintf("item %s is now %s", data.ItemID, data.Status)
	case order.PlacedData:
		return "order placed"
	case order.ConfirmedData:
		return "order confirmed"
	case order.PreparationStartedData:
		return "preparation started"
	case order.ReadyData:
		return "order ready"
	case order.DeliveryStartedData:
		return "delivery started"
	case order.DeliveredData:
		return "order delivered"
	case order.CompletedData:
		return "order completed"
	case order.CancelledData:
		if data.Reason != "" {
			return fmt.Sprintf("order cancelled (%s)", data.Reason)
		}
		return "order cancelled"
	}
	return evt.Name()
}

func money(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
