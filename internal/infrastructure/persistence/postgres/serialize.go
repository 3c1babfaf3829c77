package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/indexkit/indexcore/internal/domain/schema"
	"github.com/indexkit/indexcore/internal/domain/store"
)

// toSQL converts a decoded Value to the driver value physicalType
// expects, per §4.5's serialization rules.
func toSQL(c schema.Column, v store.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if c.List {
		items := v.Items()
		encoded := make([]any, len(items))
		for i, it := range items {
			raw, err := scalarToSQL(c, it)
			if err != nil {
				return nil, err
			}
			encoded[i] = raw
		}
		b, err := json.Marshal(encoded)
		if err != nil {
			return nil, fmt.Errorf("serialize: encode list column %s: %w", c.Name, err)
		}
		return string(b), nil
	}
	return scalarToSQL(c, v)
}

func scalarToSQL(c schema.Column, v store.Value) (any, error) {
	switch c.Kind {
	case schema.KindEnum:
		return v.EnumVal(), nil
	case schema.KindReference:
		return referenceToSQL(v)
	case schema.KindScalar:
		switch c.Scalar {
		case schema.ScalarBoolean:
			if v.Bool() {
				return 1, nil
			}
			return 0, nil
		case schema.ScalarInt:
			return v.Int(), nil
		case schema.ScalarFloat:
			return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
		case schema.ScalarString:
			return v.String(), nil
		case schema.ScalarBigInt:
			return v.BigIntVal().String(), nil
		case schema.ScalarBytes:
			return strings.ToLower(v.BytesVal()), nil
		}
	}
	return nil, fmt.Errorf("serialize: column %s has non-materializable kind %s", c.Name, c.Kind)
}

// referenceToSQL accepts either a bytes/string/int/bigint Value as the
// foreign id, passing it through by its own kind's rule.
func referenceToSQL(v store.Value) (any, error) {
	switch v.Kind() {
	case store.KindBytes:
		return strings.ToLower(v.BytesVal()), nil
	case store.KindBigInt:
		return v.BigIntVal().String(), nil
	case store.KindInt:
		return v.Int(), nil
	default:
		return v.String(), nil
	}
}

// fromSQL converts a scanned driver value back to a Value, per the
// inverse of toSQL.
func fromSQL(c schema.Column, raw any) (store.Value, error) {
	if raw == nil {
		return store.Null(), nil
	}
	if c.List {
		s, ok := raw.(string)
		if !ok {
			return store.Value{}, fmt.Errorf("deserialize: list column %s: expected text, got %T", c.Name, raw)
		}
		var parts []any
		if err := json.Unmarshal([]byte(s), &parts); err != nil {
			return store.Value{}, fmt.Errorf("deserialize: list column %s: %w", c.Name, err)
		}
		items := make([]store.Value, len(parts))
		for i, p := range parts {
			v, err := scalarFromSQL(c, p)
			if err != nil {
				return store.Value{}, err
			}
			items[i] = v
		}
		return store.List(items), nil
	}
	return scalarFromSQL(c, raw)
}

func scalarFromSQL(c schema.Column, raw any) (store.Value, error) {
	switch c.Kind {
	case schema.KindEnum:
		return store.Enum(fmt.Sprint(raw)), nil
	case schema.KindReference:
		return referenceFromSQL(raw)
	case schema.KindScalar:
		switch c.Scalar {
		case schema.ScalarBoolean:
			switch n := raw.(type) {
			case int32:
				return store.Bool(n != 0), nil
			case int64:
				return store.Bool(n != 0), nil
			case int:
				return store.Bool(n != 0), nil
			}
			return store.Value{}, fmt.Errorf("deserialize: column %s: unexpected boolean repr %T", c.Name, raw)
		case schema.ScalarInt:
			return store.Int(toInt64(raw)), nil
		case schema.ScalarFloat:
			f, err := strconv.ParseFloat(fmt.Sprint(raw), 64)
			if err != nil {
				return store.Value{}, fmt.Errorf("deserialize: column %s: %w", c.Name, err)
			}
			return store.Float(f), nil
		case schema.ScalarString:
			return store.String(fmt.Sprint(raw)), nil
		case schema.ScalarBigInt:
			// numeric(78,0) scans as a driver value type; its Value()
			// renders the decimal text SetString expects.
			if dv, ok := raw.(driver.Valuer); ok {
				v, err := dv.Value()
				if err != nil {
					return store.Value{}, fmt.Errorf("deserialize: column %s: %w", c.Name, err)
				}
				raw = v
			}
			n, ok := new(big.Int).SetString(fmt.Sprint(raw), 10)
			if !ok {
				return store.Value{}, fmt.Errorf("deserialize: column %s: invalid bigint %v", c.Name, raw)
			}
			return store.BigInt(n), nil
		case schema.ScalarBytes:
			return store.Bytes(fmt.Sprint(raw)), nil
		}
	}
	return store.Value{}, fmt.Errorf("deserialize: column %s has non-materializable kind %s", c.Name, c.Kind)
}

func referenceFromSQL(raw any) (store.Value, error) {
	switch n := raw.(type) {
	case string:
		return store.Bytes(n), nil
	case int32:
		return store.Int(int64(n)), nil
	case int64:
		return store.Int(n), nil
	default:
		return store.String(fmt.Sprint(raw)), nil
	}
}

// idValueForColumn builds the Value the id column's own toSQL rule
// expects from the plain string id the Store interface takes.
func idValueForColumn(c schema.Column, id string) store.Value {
	switch c.Scalar {
	case schema.ScalarInt:
		return store.Int(toInt64(id))
	case schema.ScalarBigInt:
		n, ok := new(big.Int).SetString(id, 10)
		if !ok {
			n = new(big.Int)
		}
		return store.BigInt(n)
	case schema.ScalarBytes:
		return store.Bytes(id)
	default:
		return store.String(id)
	}
}

func storeNull() store.Value { return store.Null() }

func toInt64(raw any) int64 {
	switch n := raw.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	v, _ := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	return v
}
