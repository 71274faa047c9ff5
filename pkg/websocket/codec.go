package websocket

import (
	"bytes"
	"encoding/json"

	"wsclient/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// decodePayload decodes a frame body on a best-effort basis.
// A blank body yields a nil payload. A body that is not JSON yields the raw
// string, or an ErrDecode error when strict is set.
func decodePayload(body []byte, strict bool) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var v any
	if err := sonic.Unmarshal(body, &v); err != nil {
		if strict {
			return nil, errors.Wrapf(exception.ErrDecode, "%d bytes: %v", len(body), err)
		}
		return string(body), nil
	}
	return v, nil
}

// encodeBody serializes a publish body. Strings and byte slices are sent as-is.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		payload, err := sonic.Marshal(body)
		if err != nil {
			return nil, errors.Wrapf(err, "encode body %T", body)
		}
		return payload, nil
	}
}

// Decode unmarshals the body of raw into T.
// A blank body returns the zero value of T.
func Decode[T any](raw Frame) (T, error) {
	var v T
	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return v, nil
	}
	if err := sonic.Unmarshal(raw.Body, &v); err != nil {
		return v, errors.Wrapf(exception.ErrDecode, "%s into %T: %v", raw.Destination, v, err)
	}
	return v, nil
}
