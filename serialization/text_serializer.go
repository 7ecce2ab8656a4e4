package serialization

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"rbridge/bridge"
	"rbridge/shared"
)

// PreviewRows bounds how many rows a dataset prints in text form
const PreviewRows = 20

// TextSerializer renders results the way the console prints them
type TextSerializer struct {
	previewRows int
}

// NewTextSerializer creates a new text serializer
func NewTextSerializer() *TextSerializer {
	return &TextSerializer{previewRows: PreviewRows}
}

// Serialize renders data as human-readable text. Types without a text
// form fall back to YAML.
func (ts *TextSerializer) Serialize(data interface{}) ([]byte, error) {
	if data == nil {
		return nil, NewSerializationError("text", "serialize", "data is nil")
	}

	var b strings.Builder
	switch v := data.(type) {
	case *bridge.ExecuteResult:
		writeResult(&b, v)
	case *bridge.AskResult:
		b.WriteString("# generated code\n")
		b.WriteString(strings.TrimRight(v.Source, "\n"))
		b.WriteString("\n\n")
		if v.Result != nil {
			writeResult(&b, v.Result)
		}
	case *bridge.Dataset:
		b.WriteString(shared.FormatPreview(v.Rows, ts.previewRows))
		if v.Summary != "" {
			b.WriteString("\n")
			b.WriteString(strings.TrimRight(v.Summary, "\n"))
			b.WriteString("\n")
		}
	case []shared.DatasetOption:
		w := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
		for _, opt := range v {
			fmt.Fprintf(w, "%s\t%s\n", opt.Value, opt.Label)
		}
		_ = w.Flush()
	case []bridge.Preset:
		w := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
		for _, p := range v {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Title)
		}
		_ = w.Flush()
	case fmt.Stringer:
		b.WriteString(v.String())
	case string:
		b.WriteString(v)
	default:
		out, err := yaml.Marshal(v)
		if err != nil {
			return nil, NewSerializationError("text", "serialize", err.Error())
		}
		return out, nil
	}

	out := b.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out), nil
}

func writeResult(b *strings.Builder, r *bridge.ExecuteResult) {
	if len(r.Installed) > 0 {
		fmt.Fprintf(b, "# installed: %s\n", strings.Join(r.Installed, ", "))
	}
	if r.Output != "" {
		b.WriteString(r.Output)
		if !strings.HasSuffix(r.Output, "\n") {
			b.WriteString("\n")
		}
	}
	if r.PlotInfo != nil {
		fmt.Fprintf(b, "[plot %dx%d PNG, %d bytes]\n", r.PlotInfo.Width, r.PlotInfo.Height, r.PlotInfo.Bytes)
	}
	if !r.Success {
		b.WriteString(r.Error)
		b.WriteString("\n")
	}
}

// DeserializeInto is not supported for text
func (ts *TextSerializer) DeserializeInto(data []byte, target interface{}) error {
	return NewSerializationError("text", "deserialize", "text output cannot be decoded")
}

// GetName returns the name of the serializer
func (ts *TextSerializer) GetName() string {
	return "text"
}
