package external

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/pvpc-backend/internal/models"
)

type alternativePayload struct {
	Prices []alternativeEntry `json:"prices"`
}

type alternativeEntry struct {
	Date  string           `json:"date"`
	Hour  *int             `json:"hour"`
	Price *decimal.Decimal `json:"price"`
}

// TransformAlternative normalizes the alternate feed:
// {"prices":[{"date":"YYYY-MM-DD","hour":0,"price":0.09}]} with prices already in €/kWh.
func TransformAlternative(body []byte) ([]models.RawPriceEntry, []DroppedEntry, error) {
	var payload alternativePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidProviderFormat, err)
	}
	if len(payload.Prices) == 0 {
		return nil, nil, fmt.Errorf("%w: missing prices array", ErrInvalidProviderFormat)
	}

	entries := make([]models.RawPriceEntry, 0, len(payload.Prices))
	var dropped []DroppedEntry
	for _, item := range payload.Prices {
		day, err := models.ParseDay(item.Date)
		switch {
		case err != nil:
			dropped = append(dropped, item.drop("bad date"))
		case item.Hour == nil || !models.ValidHour(*item.Hour):
			dropped = append(dropped, item.drop("bad hour"))
		case item.Price == nil:
			dropped = append(dropped, item.drop("missing price"))
		default:
			entries = append(entries, models.RawPriceEntry{Date: day, Hour: *item.Hour, Price: *item.Price})
		}
	}
	return entries, dropped, nil
}

func (e alternativeEntry) drop(reason string) DroppedEntry {
	raw, _ := json.Marshal(e)
	return DroppedEntry{Raw: string(raw), Reason: reason}
}
