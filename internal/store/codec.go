package store

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
)

// Values are stored as snappy-compressed JSON.

func encodeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return encodeRaw(raw), nil
}

func encodeRaw(raw []byte) []byte {
	return snappy.Encode(nil, raw)
}

func decodeRaw(b []byte) ([]byte, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return raw, nil
}

func decodeValue(b []byte, out interface{}) error {
	raw, err := decodeRaw(b)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
