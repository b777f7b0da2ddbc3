// Package settings реализует персистентное хранилище настроек с типизированной схемой.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// SettingType задает тип значения настройки модуля
type SettingType uint8

const (
	// TypeString строковое значение
	TypeString SettingType = iota
	// TypeInt целое число
	TypeInt
	// TypeFloat число с плавающей точкой
	TypeFloat
	// TypeBool логическое значение
	TypeBool
	// TypeList список строк
	TypeList
)

// String возвращает имя типа в том виде, в каком его объявляют модули
func (t SettingType) String() string {
	switch t {
	case TypeString:
		return "str"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

// ParseSettingType разбирает имя типа из схемы настроек
func ParseSettingType(name string) (SettingType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "str", "string":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "float", "number":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "list":
		return TypeList, nil
	default:
		return TypeString, fmt.Errorf("unknown setting type %q", name)
	}
}

// Setting описывает одну настройку в схеме модуля
type Setting struct {
	Key         string
	Label       string
	Type        SettingType
	Default     any
	Description string
}

var truthy = map[string]struct{}{
	"true": {}, "1": {}, "yes": {}, "да": {}, "on": {},
}

// Coerce приводит сырое значение к типу t
func (t SettingType) Coerce(raw any) (any, error) {
	switch t {
	case TypeInt:
		return toInt(raw)
	case TypeFloat:
		return toFloat(raw)
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
		_, ok := truthy[strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))]
		return ok, nil
	case TypeList:
		return toList(raw)
	case TypeString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	default:
		return nil, fmt.Errorf("unsupported setting type %d", t)
	}
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid int %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float %q: %w", v, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", raw)
	}
}

func toList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case string:
		out := []string{}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to list", raw)
	}
}

var falsy = map[string]struct{}{
	"false": {}, "0": {}, "no": {}, "нет": {}, "off": {},
}

// ParseInput строго разбирает значение, введенное пользователем. В отличие от
// Coerce, нераспознанное логическое значение считается ошибкой.
func (t SettingType) ParseInput(input string) (any, error) {
	input = strings.TrimSpace(input)
	if t != TypeBool {
		return t.Coerce(input)
	}
	lower := strings.ToLower(input)
	if _, ok := truthy[lower]; ok {
		return true, nil
	}
	if _, ok := falsy[lower]; ok {
		return false, nil
	}
	return nil, fmt.Errorf("invalid bool %q", input)
}
