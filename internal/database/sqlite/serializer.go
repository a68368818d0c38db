package sqlite

import (
	"context"
	"fmt"
	"reflect"

	jsoniter "github.com/json-iterator/go"
	"gorm.io/gorm/schema"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	schema.RegisterSerializer("jsoniter", jsonSerializer{})
}

// jsonSerializer stores a field as JSON text. A nil value is stored as NULL.
type jsonSerializer struct{}

func (jsonSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	fieldValue := reflect.New(field.FieldType)
	if dbValue != nil {
		var data []byte
		switch v := dbValue.(type) {
		case []byte:
			data = v
		case string:
			data = []byte(v)
		default:
			return fmt.Errorf("decode %s: unexpected %T", field.Name, dbValue)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, fieldValue.Interface()); err != nil {
				return fmt.Errorf("decode %s: %w", field.Name, err)
			}
		}
	}
	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

func (jsonSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	data, err := json.Marshal(fieldValue)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", field.Name, err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}
