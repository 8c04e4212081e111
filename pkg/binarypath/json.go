package binarypath

import "encoding/json"

// MarshalJSON encodes the path as a plain JSON string when its raw bytes are
// valid UTF-8, and as a binary byte blob object otherwise. Decoders must
// accept both shapes.
func (p BinaryPath) MarshalJSON() ([]byte, error) {
	if p.IsValidUTF8() {
		return json.Marshal(string(p.raw))
	}
	return json.Marshal(jsonBinaryBlob{Binary: p.raw})
}

// UnmarshalJSON accepts either a plain string or a binary blob object.
func (p *BinaryPath) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*p = FromString(asString)
		return nil
	}

	var asBlob jsonBinaryBlob
	if err := json.Unmarshal(data, &asBlob); err != nil {
		return err
	}
	*p = FromBytes(asBlob.Binary)
	return nil
}
