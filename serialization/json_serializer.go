package serialization

import (
	"encoding/json"
)

// JSONSerializer writes indented JSON
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize converts data to indented JSON with a trailing newline
func (js *JSONSerializer) Serialize(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, NewSerializationError("json", "serialize", "data is nil")
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, NewSerializationError("json", "serialize", err.Error())
	}
	return append(jsonData, '\n'), nil
}

// DeserializeInto decodes JSON bytes into target
func (js *JSONSerializer) DeserializeInto(data []byte, target interface{}) error {
	if len(data) == 0 {
		return NewSerializationError("json", "deserialize", "data is empty")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return NewSerializationError("json", "deserialize", err.Error())
	}
	return nil
}

// GetName returns the name of the serializer
func (js *JSONSerializer) GetName() string {
	return "json"
}
