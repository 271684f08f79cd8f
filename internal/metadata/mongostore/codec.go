package mongostore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// Registry returns the bson registry the store's client uses. The enabled
// flags of wf_do, do_prov and do_vers are integers (1/0) in the shared
// collections, so Go bools are written as int32. Reads also accept
// booleans, doubles and numeric strings, which older tooling left behind.
func Registry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	boolType := reflect.TypeOf(false)
	reg.RegisterTypeEncoder(boolType, bsoncodec.ValueEncoderFunc(encodeFlag))
	reg.RegisterTypeDecoder(boolType, bsoncodec.ValueDecoderFunc(decodeFlag))
	return reg
}

func encodeFlag(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if val.Kind() != reflect.Bool {
		return bsoncodec.ValueEncoderError{Name: "flagEncoder", Kinds: []reflect.Kind{reflect.Bool}, Received: val}
	}
	if val.Bool() {
		return vw.WriteInt32(1)
	}
	return vw.WriteInt32(0)
}

func decodeFlag(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Kind() != reflect.Bool {
		return bsoncodec.ValueDecoderError{Name: "flagDecoder", Kinds: []reflect.Kind{reflect.Bool}, Received: val}
	}
	var flag bool
	switch vr.Type() {
	case bson.TypeBoolean:
		b, err := vr.ReadBoolean()
		if err != nil {
			return err
		}
		flag = b
	case bson.TypeInt32:
		n, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		flag = n != 0
	case bson.TypeInt64:
		n, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		flag = n != 0
	case bson.TypeDouble:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		flag = f != 0
	case bson.TypeString:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		parsed, err := parseFlag(s)
		if err != nil {
			return err
		}
		flag = parsed
	case bson.TypeNull:
		if err := vr.ReadNull(); err != nil {
			return err
		}
	case bson.TypeUndefined:
		if err := vr.ReadUndefined(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot decode %v into an enabled flag", vr.Type())
	}
	val.SetBool(flag)
	return nil
}

func parseFlag(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f != 0, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("cannot decode %q into an enabled flag", s)
	}
	return b, nil
}
