package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
)

// Decoder reads a response body. Decoding errors are not retried.
type Decoder func(r io.Reader) error

// NewJSONDecoder decodes the body as JSON into resp.
func NewJSONDecoder(resp interface{}) Decoder {
	return func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(resp); err != nil {
			return fmt.Errorf("failed to unmarshal: %w", err)
		}
		return nil
	}
}

func NewBytesDecoder(resp *[]byte) Decoder {
	return func(r io.Reader) (err error) {
		*resp, err = io.ReadAll(r)
		return err
	}
}

func NewStringDecoder(resp *string) Decoder {
	return func(r io.Reader) error {
		b, err := io.ReadAll(r)
		*resp = string(b)
		return err
	}
}
