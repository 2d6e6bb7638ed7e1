package engine

import (
	"musicow-insight-go/internal/market"
)

// BuyPressure is the order book imbalance of a song: resting buy quantity minus resting
// sell quantity over their sum, in [-1,1] rounded to 2 decimals. Quantity is order_count;
// orders without one weigh one unit. Nil when nothing is resting.
func BuyPressure(songOrders []market.Order) *float64 {
	var buyQty, sellQty float64
	for _, o := range songOrders {
		if !o.Waiting() {
			continue
		}
		qty := o.Count
		if qty <= 0 || !finite(qty) {
			qty = 1
		}
		switch o.Type {
		case market.Buy:
			buyQty += qty
		case market.Sell:
			sellQty += qty
		}
	}
	total := buyQty + sellQty
	if total <= 0 {
		return nil
	}
	imbalance := market.Round(clamp((buyQty-sellQty)/total, -1, 1), 2)
	return &imbalance
}
