package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/bridge"
	"rbridge/engine"
	"rbridge/errors"
	"rbridge/shared"
)

func TestRegistry(t *testing.T) {
	registry := NewDefaultSerializerRegistry()
	assert.Equal(t, []string{"json", "text", "yaml"}, registry.ListSerializers())
	assert.True(t, registry.IsFormatSupported("JSON"))
	assert.False(t, IsFormatSupported("msgpack"))

	_, err := registry.GetSerializer("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json, text, yaml")

	assert.Error(t, registry.RegisterSerializer(NewJSONSerializer()))
}

func TestJSONRoundTrip(t *testing.T) {
	result := &bridge.ExecuteResult{Success: false, Error: "Error: boom", ErrorKind: errors.KindInterpreterRuntime, Attempts: 1}
	data, err := Serialize(result, "json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error": "Error: boom"`)
	assert.NotContains(t, string(data), "output")

	var decoded bridge.ExecuteResult
	require.NoError(t, DeserializeInto(data, "json", &decoded))
	assert.Equal(t, *result, decoded)
}

func TestYAMLDecodesUpload(t *testing.T) {
	input := []byte("name: scores\ndata:\n  columns: [name, score]\n  rows:\n    - {name: a, score: 1}\n    - {name: b, score: 2.5}\n")
	var upload bridge.UploadedData
	require.NoError(t, DeserializeInto(input, "yaml", &upload))
	assert.Equal(t, "scores", upload.Name)
	require.NotNil(t, upload.Data)
	assert.Equal(t, []string{"name", "score"}, upload.Data.Columns)
	assert.Equal(t, 2, upload.Data.Len())

	err := DeserializeInto(nil, "yaml", &upload)
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "deserialize", serr.Operation)
}

func TestTextResult(t *testing.T) {
	out, err := Serialize(&bridge.ExecuteResult{
		Success:   true,
		Output:    "[1] 42",
		PlotInfo:  &engine.PlotInfo{Width: 320, Height: 200, Bytes: 1234},
		Installed: []string{"tidyr"},
	}, "text")
	require.NoError(t, err)
	assert.Equal(t, "# installed: tidyr\n[1] 42\n[plot 320x200 PNG, 1234 bytes]\n", string(out))

	out, err = Serialize(&bridge.ExecuteResult{Output: "partial\n", Error: "Error: object 'x' not found"}, "text")
	require.NoError(t, err)
	assert.Equal(t, "partial\nError: object 'x' not found\n", string(out))
}

func TestTextDatasetOptions(t *testing.T) {
	out, err := Serialize([]shared.DatasetOption{
		{Value: "iris", Label: "Edgar Anderson's Iris Data"},
		{Value: "mtcars", Label: "Motor Trend Car Road Tests"},
	}, "text")
	require.NoError(t, err)
	assert.Contains(t, string(out), "iris    Edgar Anderson's Iris Data\n")
	assert.Contains(t, string(out), "mtcars  Motor Trend Car Road Tests\n")
}

func TestTextFallsBackToYAML(t *testing.T) {
	out, err := Serialize(map[string]int{"rows": 3}, "text")
	require.NoError(t, err)
	assert.Equal(t, "rows: 3\n", string(out))

	err = NewTextSerializer().DeserializeInto([]byte("x"), &struct{}{})
	assert.Error(t, err)
}
