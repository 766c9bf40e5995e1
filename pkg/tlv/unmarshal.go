package tlv

import (
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// BER-TLV data, such as the templates a SELECT returns, is decoded with
// bertlv and mapped onto structs tagged `tlv:"<hex tag>"`. Supported field
// kinds are []byte, string (hex of the value), unsigned integers, structs
// or pointers to structs (decoded recursively), slices of those (one
// element per occurrence) and any type implementing Unmarshaler. A field
// tagged `tlv:",unknown"` or named Unknown receives the unclaimed packets.

// Unmarshaler is implemented by field types that decode their own value.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

var errNotPointer = errors.New("target must be a non-nil pointer")

// Unmarshal decodes data and maps it onto the struct target points to.
func Unmarshal(data []byte, target any) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps already decoded packets onto target.
func UnmarshalFromPackets(packets []bertlv.TLV, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errNotPointer
	}
	v = v.Elem()

	claimed := make([]bool, len(packets))
	var unknown reflect.Value

	for i := 0; i < v.NumField(); i++ {
		meta := v.Type().Field(i)
		tag, _, _ := strings.Cut(meta.Tag.Get("tlv"), ",")
		if meta.Name == "Unknown" || meta.Tag.Get("tlv") == ",unknown" {
			unknown = v.Field(i)
			continue
		}
		if tag == "" {
			continue
		}

		for j, p := range packets {
			if !strings.EqualFold(p.Tag, tag) {
				continue
			}
			if err := setField(v.Field(i), p); err != nil {
				return fmt.Errorf("field %s (tag %s): %w", meta.Name, strings.ToUpper(tag), err)
			}
			claimed[j] = true
		}
	}

	if !unknown.IsValid() || !unknown.CanSet() || unknown.Type() != reflect.TypeOf([]bertlv.TLV(nil)) {
		return nil
	}
	var rest []bertlv.TLV
	for j, p := range packets {
		if !claimed[j] {
			rest = append(rest, p)
		}
	}
	if rest != nil {
		unknown.Set(reflect.ValueOf(rest))
	}
	return nil
}

func setField(field reflect.Value, p bertlv.TLV) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() != reflect.Uint8 {
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := setValue(elem, p); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil
	}
	return setValue(field, p)
}

func setValue(field reflect.Value, p bertlv.TLV) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(valueOf(p))
		}
	}

	switch field.Kind() {
	case reflect.Slice:
		field.SetBytes(valueOf(p))
	case reflect.String:
		field.SetString(hex.EncodeToString(p.Value))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if len(p.Value) > 8 {
			return fmt.Errorf("integer value too long: %d bytes", len(p.Value))
		}
		var n uint64
		for _, b := range p.Value {
			n = n<<8 | uint64(b)
		}
		field.SetUint(n)
	case reflect.Ptr:
		if field.Type().Elem().Kind() != reflect.Struct {
			return nil
		}
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return decodeNested(field, p)
	case reflect.Struct:
		return decodeNested(field.Addr(), p)
	}
	return nil
}

func decodeNested(target reflect.Value, p bertlv.TLV) error {
	if len(p.TLVs) > 0 {
		return UnmarshalFromPackets(p.TLVs, target.Interface())
	}
	return Unmarshal(p.Value, target.Interface())
}

// valueOf returns the value bytes of p, re-encoding the children of a
// constructed packet.
func valueOf(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}
