package serialization

// NewDefaultSerializerRegistry creates a registry with the text, json and yaml serializers
func NewDefaultSerializerRegistry() *SerializerRegistry {
	registry := NewSerializerRegistry()
	for _, s := range []Serializer{NewTextSerializer(), NewJSONSerializer(), NewYAMLSerializer()} {
		// names are distinct, registration cannot fail
		_ = registry.RegisterSerializer(s)
	}
	return registry
}

// Serialize serializes data using the specified format
func Serialize(data interface{}, format string) ([]byte, error) {
	serializer, err := NewDefaultSerializerRegistry().GetSerializer(format)
	if err != nil {
		return nil, err
	}
	return serializer.Serialize(data)
}

// DeserializeInto decodes data in the specified format into target
func DeserializeInto(data []byte, format string, target interface{}) error {
	serializer, err := NewDefaultSerializerRegistry().GetSerializer(format)
	if err != nil {
		return err
	}
	return serializer.DeserializeInto(data, target)
}

// GetSupportedFormats returns all supported serialization formats
func GetSupportedFormats() []string {
	return NewDefaultSerializerRegistry().ListSerializers()
}

// IsFormatSupported checks if a format is supported
func IsFormatSupported(format string) bool {
	return NewDefaultSerializerRegistry().IsFormatSupported(format)
}
