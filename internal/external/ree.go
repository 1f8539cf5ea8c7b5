package external

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/pvpc-backend/internal/models"
)

const reeDayLayout = "02/01/2006"

var thousand = decimal.NewFromInt(1000)

type reePayload struct {
	PVPC []reeEntry `json:"PVPC"`
}

type reeEntry struct {
	Dia  string    `json:"Dia"`
	Hora string    `json:"Hora"`
	PCB  looseText `json:"PCB"`
}

// looseText accepts a JSON string or a bare number.
type looseText string

func (t *looseText) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = looseText(s)
		return nil
	}
	*t = looseText(b)
	return nil
}

// TransformREE normalizes an REE PVPC payload. PCB is €/MWh and is converted to €/kWh.
func TransformREE(body []byte) ([]models.RawPriceEntry, []DroppedEntry, error) {
	var payload reePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidProviderFormat, err)
	}
	if len(payload.PVPC) == 0 {
		return nil, nil, fmt.Errorf("%w: missing PVPC array", ErrInvalidProviderFormat)
	}

	entries := make([]models.RawPriceEntry, 0, len(payload.PVPC))
	var dropped []DroppedEntry
	for _, item := range payload.PVPC {
		entry, err := item.normalize()
		if err != nil {
			raw, _ := json.Marshal(item)
			dropped = append(dropped, DroppedEntry{Raw: string(raw), Reason: err.Error()})
			continue
		}
		entries = append(entries, entry)
	}
	return entries, dropped, nil
}

func (e reeEntry) normalize() (models.RawPriceEntry, error) {
	day, err := time.ParseInLocation(reeDayLayout, strings.TrimSpace(e.Dia), time.UTC)
	if err != nil {
		return models.RawPriceEntry{}, fmt.Errorf("bad date %q", e.Dia)
	}

	start, _, _ := strings.Cut(e.Hora, "-")
	hour, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil || !models.ValidHour(hour) {
		return models.RawPriceEntry{}, fmt.Errorf("bad hour %q", e.Hora)
	}

	mwh, err := parseSpanishDecimal(string(e.PCB))
	if err != nil {
		return models.RawPriceEntry{}, fmt.Errorf("bad price %q", string(e.PCB))
	}

	return models.RawPriceEntry{
		Date:  day,
		Hour:  hour,
		Price: mwh.Div(thousand),
	}, nil
}

// parseSpanishDecimal accepts "90.00", "90,00" and "1.234,56".
func parseSpanishDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return decimal.NewFromString(s)
}
