package contrib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AbsentToken is the canonical form of nil and of nil pointers, maps and slices.
const AbsentToken = "null"

// DayLayout is the canonical calendar-day form of date-like values.
const DayLayout = "2006-01-02"

// dateLayouts are tried in order when a string looks like a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DayLayout,
}

// Normalize returns the canonical serialization of v. Two values compare
// equal iff their canonical forms are byte-identical. The result is valid
// JSON, so decoding and normalizing it again yields the same string.
func Normalize(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Equal compares a and b by canonical form.
func Equal(a, b any) (bool, error) {
	na, err := Normalize(a)
	if err != nil {
		return false, err
	}
	nb, err := Normalize(b)
	if err != nil {
		return false, err
	}
	return na == nb, nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString(AbsentToken)
		return nil
	case time.Time:
		writeString(b, t.UTC().Format(DayLayout))
		return nil
	case *time.Time:
		if t == nil {
			b.WriteString(AbsentToken)
			return nil
		}
		writeString(b, t.UTC().Format(DayLayout))
		return nil
	case string:
		if day, ok := parseDay(t); ok {
			writeString(b, day)
			return nil
		}
		writeString(b, t)
		return nil
	case json.Number:
		return writeNumberString(b, string(t))
	case json.RawMessage:
		decoded, err := decodeJSON(t)
		if err != nil {
			return err
		}
		return writeCanonical(b, decoded)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString(AbsentToken)
			return nil
		}
		return writeCanonical(b, rv.Elem().Interface())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return writeFloat(b, rv.Float())
	case reflect.String:
		return writeCanonical(b, rv.String())
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString(AbsentToken)
			return nil
		}
		return writeList(b, rv)
	case reflect.Array:
		return writeList(b, rv)
	case reflect.Map:
		if rv.IsNil() {
			b.WriteString(AbsentToken)
			return nil
		}
		return writeMap(b, rv)
	case reflect.Struct:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("normalize %T: %w", v, err)
		}
		decoded, err := decodeJSON(raw)
		if err != nil {
			return err
		}
		return writeCanonical(b, decoded)
	default:
		return fmt.Errorf("normalize: unsupported value of type %T", v)
	}
}

// writeList sorts elements by their canonical form, making id lists
// order-insensitive.
func writeList(b *strings.Builder, rv reflect.Value) error {
	items := make([]string, rv.Len())
	for i := range items {
		s, err := Normalize(rv.Index(i).Interface())
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		items[i] = s
	}
	sort.Strings(items)
	b.WriteByte('[')
	b.WriteString(strings.Join(items, ","))
	b.WriteByte(']')
	return nil
}

func writeMap(b *strings.Builder, rv reflect.Value) error {
	entries := make(map[string]reflect.Value, rv.Len())
	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		var key string
		if k.Kind() == reflect.String {
			key = k.String()
		} else {
			key = fmt.Sprint(k.Interface())
		}
		if _, dup := entries[key]; dup {
			return fmt.Errorf("normalize: map keys collide as %q", key)
		}
		entries[key] = iter.Value()
		keys = append(keys, key)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeString(b, key)
		b.WriteByte(':')
		if err := writeCanonical(b, entries[key].Interface()); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	b.WriteByte('}')
	return nil
}

// writeFloat renders integral values in plain decimal so 2020, 2020.0 and
// json.Number("2020") agree at any magnitude.
func writeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("normalize: non-finite number %v", f)
	}
	if f == 0 {
		b.WriteString("0") // -0
		return nil
	}
	if f == math.Trunc(f) {
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

// writeNumberString keeps integers exact and sends everything else through
// writeFloat, so "1e15" and "1000000000000000" agree.
func writeNumberString(b *strings.Builder, s string) error {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		b.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("normalize: invalid number %q: %w", s, err)
	}
	return writeFloat(b, f)
}

func writeString(b *strings.Builder, s string) {
	// json.Marshal on a string cannot fail.
	raw, _ := json.Marshal(s)
	b.Write(raw)
}

func parseDay(s string) (string, bool) {
	if len(s) < len(DayLayout) || s[4] != '-' || s[7] != '-' {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(DayLayout), true
		}
	}
	return "", false
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize: decode json: %w", err)
	}
	return out, nil
}
