package moodle

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
)

// Params are the arguments of a web service function. Values may be
// scalars, nested Params, []Params or slices of scalars; they are flattened
// into PHP-style form keys such as users[0][username].
type Params map[string]any

// encodeForm flattens params into url.Values. Encoding is deterministic:
// url.Values.Encode sorts keys.
func encodeForm(params Params) (url.Values, error) {
	values := url.Values{}
	for k, v := range params {
		if err := flatten(values, k, v); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func flatten(values url.Values, key string, v any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case Params:
		for k, inner := range val {
			if err := flatten(values, key+"["+k+"]", inner); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return flatten(values, key, Params(val))
	case []Params:
		for i, inner := range val {
			if err := flatten(values, fmt.Sprintf("%s[%d]", key, i), inner); err != nil {
				return err
			}
		}
		return nil
	case string:
		values.Set(key, val)
	case bool:
		if val {
			values.Set(key, "1")
		} else {
			values.Set(key, "0")
		}
	case int:
		values.Set(key, strconv.Itoa(val))
	case int64:
		values.Set(key, strconv.FormatInt(val, 10))
	case float64:
		values.Set(key, strconv.FormatFloat(val, 'f', -1, 64))
	case fmt.Stringer:
		values.Set(key, val.String())
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			for i := 0; i < rv.Len(); i++ {
				if err := flatten(values, fmt.Sprintf("%s[%d]", key, i), rv.Index(i).Interface()); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("moodle: unsupported parameter type %T for %s", v, key)
	}
	return nil
}
