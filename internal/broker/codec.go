package broker

import "encoding/json"

// MessageConverter converts between a handler's typed value and the
// opaque bytes stored on a Message. The core tries converters in
// registration order and uses the first that can handle the value;
// the core itself never hard-codes a wire format.
type MessageConverter interface {
	// CanConvert reports whether this converter should handle v.
	CanConvert(v any) bool
	// ToPayload serializes v to bytes.
	ToPayload(v any) ([]byte, error)
	// FromPayload deserializes bytes into out, a pointer to the
	// handler's expected type.
	FromPayload(data []byte, out any) error
}

// JSONConverter is the default codec: encoding/json, accepting any
// value. It is always the last-resort entry in a converter chain
// because CanConvert is unconditionally true.
type JSONConverter struct{}

func (JSONConverter) CanConvert(any) bool { return true }

func (JSONConverter) ToPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONConverter) FromPayload(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

// encodePayload runs the converter chain's ToPayload step, used by the
// producer API.
func encodePayload(converters []MessageConverter, v any) ([]byte, error) {
	for _, conv := range converters {
		if conv.CanConvert(v) {
			return conv.ToPayload(v)
		}
	}
	return nil, newCodecError(errNoConverter)
}

// decodePayload runs the converter chain's FromPayload step, used by
// the worker pool before invoking a handler.
func decodePayload(converters []MessageConverter, data []byte, out any) error {
	for _, conv := range converters {
		if conv.CanConvert(out) {
			if err := conv.FromPayload(data, out); err != nil {
				return newCodecError(err)
			}
			return nil
		}
	}
	return newCodecError(errNoConverter)
}

var errNoConverter = errNoConverterErr{}

type errNoConverterErr struct{}

func (errNoConverterErr) Error() string { return "no registered converter could handle the value" }
