package accessory

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ilot95/hmip-bridge/internal/bridges/hmip"
)

// Coerce converts a loosely typed request value to the type a
// characteristic's handlers expect: bool for On, int 0..100 for Brightness.
//
// On accepts bools, the numbers 0 and 1, and the strings "true"/"false"
// ("on"/"off", "1"/"0"). Brightness accepts any number in 0..100 and rounds it.
func Coerce(kind hmip.Characteristic, value any) (any, error) {
	switch kind {
	case hmip.CharacteristicOn:
		return coerceBool(value)
	case hmip.CharacteristicBrightness:
		return coercePercent(value)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotBound, kind)
	}
}

func coerceBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "on", "1":
			return true, nil
		case "false", "off", "0":
			return false, nil
		}
	default:
		if f, ok := toFloat(value); ok {
			switch f {
			case 1:
				return true, nil
			case 0:
				return false, nil
			}
		}
	}
	return false, fmt.Errorf("%w: On expects a boolean, got %v", hmip.ErrInvalidValue, value)
}

func coercePercent(value any) (int, error) {
	f, ok := toFloat(value)
	if !ok || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: Brightness expects a number, got %v", hmip.ErrInvalidValue, value)
	}
	if f < 0 || f > 100 {
		return 0, fmt.Errorf("%w: Brightness %v outside 0..100", hmip.ErrInvalidValue, value)
	}
	return int(math.Round(f)), nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// decodePayload parses an MQTT request payload. JSON values are decoded;
// anything else is taken as a bare string ("on", "off").
func decodePayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return strings.TrimSpace(string(payload))
}
