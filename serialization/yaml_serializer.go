package serialization

import (
	"gopkg.in/yaml.v3"
)

// YAMLSerializer writes YAML with two-space indentation
type YAMLSerializer struct{}

// NewYAMLSerializer creates a new YAML serializer
func NewYAMLSerializer() *YAMLSerializer {
	return &YAMLSerializer{}
}

// Serialize converts data to YAML
func (ys *YAMLSerializer) Serialize(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, NewSerializationError("yaml", "serialize", "data is nil")
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return nil, NewSerializationError("yaml", "serialize", err.Error())
	}
	return out, nil
}

// DeserializeInto decodes YAML bytes into target
func (ys *YAMLSerializer) DeserializeInto(data []byte, target interface{}) error {
	if len(data) == 0 {
		return NewSerializationError("yaml", "deserialize", "data is empty")
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return NewSerializationError("yaml", "deserialize", err.Error())
	}
	return nil
}

// GetName returns the name of the serializer
func (ys *YAMLSerializer) GetName() string {
	return "yaml"
}
