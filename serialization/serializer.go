package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Serializer encodes results for output and decodes caller input
type Serializer interface {
	// Serialize converts data to bytes
	Serialize(data interface{}) ([]byte, error)

	// DeserializeInto decodes bytes into target, a pointer
	DeserializeInto(data []byte, target interface{}) error

	// GetName returns the name of the serializer
	GetName() string
}

// SerializationError represents an error that occurred during serialization
type SerializationError struct {
	Operation string
	Message   string
	Format    string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("[%s %s error] %s", e.Format, e.Operation, e.Message)
}

// NewSerializationError creates a new serialization error
func NewSerializationError(format, operation, message string) *SerializationError {
	return &SerializationError{
		Format:    format,
		Operation: operation,
		Message:   message,
	}
}

// SerializerRegistry manages multiple serializers
type SerializerRegistry struct {
	serializers map[string]Serializer
}

// NewSerializerRegistry creates a new serializer registry
func NewSerializerRegistry() *SerializerRegistry {
	return &SerializerRegistry{serializers: make(map[string]Serializer)}
}

// RegisterSerializer registers a serializer
func (sr *SerializerRegistry) RegisterSerializer(serializer Serializer) error {
	name := serializer.GetName()
	if _, exists := sr.serializers[name]; exists {
		return fmt.Errorf("serializer '%s' is already registered", name)
	}
	sr.serializers[name] = serializer
	return nil
}

// GetSerializer returns a serializer by name, ignoring case
func (sr *SerializerRegistry) GetSerializer(name string) (Serializer, error) {
	serializer, exists := sr.serializers[strings.ToLower(name)]
	if !exists {
		return nil, fmt.Errorf("unknown format '%s' (supported: %s)", name, strings.Join(sr.ListSerializers(), ", "))
	}
	return serializer, nil
}

// ListSerializers returns the names of all registered serializers, sorted
func (sr *SerializerRegistry) ListSerializers() []string {
	names := make([]string, 0, len(sr.serializers))
	for name := range sr.serializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFormatSupported checks if a format is supported
func (sr *SerializerRegistry) IsFormatSupported(format string) bool {
	_, exists := sr.serializers[strings.ToLower(format)]
	return exists
}
