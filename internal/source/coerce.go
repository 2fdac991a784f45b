package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sells-group/comex-enrich/internal/model"
)

// Coerce converts a driver value into the Go type the sinks expect for t:
// string, float64, int64, bool or time.Time. Values that cannot be converted
// become nil.
func Coerce(v any, t model.ColumnType) any {
	if v == nil {
		return nil
	}
	if n, ok := v.(pgtype.Numeric); ok {
		if !n.Valid {
			return nil
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		v = f.Float64
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch t {
	case model.TypeFloat:
		return toFloat(v)
	case model.TypeInteger:
		return toInt(v)
	case model.TypeBool:
		return toBool(v)
	case model.TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return ts
		}
		return nil
	default:
		return asString(v)
	}
}

// asString renders a key or text value. Integral floats drop their fraction
// so numeric CNPJ parts keep their digits.
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e18 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) any {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case int16:
		return float64(x)
	case int:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", "."), 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

func toInt(v any) any {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		return int64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		return n
	default:
		return nil
	}
}

func toBool(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}
