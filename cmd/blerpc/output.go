package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/srg/blerpc/pkg/config"
	"github.com/srg/blerpc/pkg/rpc"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

var (
	methodColor = color.New(color.FgCyan, color.Bold)
	valueColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

// resultPrinter writes method results in the configured output format.
// JSON output is one object per line; YAML output is one document per result.
type resultPrinter struct {
	w      io.Writer
	format string
	yaml   *yaml.Encoder
}

func newResultPrinter(w io.Writer, format string) *resultPrinter {
	p := &resultPrinter{w: w, format: format}
	if format == config.OutputYAML {
		p.yaml = yaml.NewEncoder(w)
		p.yaml.SetIndent(2)
	}
	return p
}

// Print writes one record. Field order is preserved in structured formats.
func (p *resultPrinter) Print(record *orderedmap.OrderedMap[string, any]) error {
	switch p.format {
	case config.OutputJSON:
		return json.NewEncoder(p.w).Encode(record)
	case config.OutputYAML:
		return p.yaml.Encode(record)
	default:
		return fmt.Errorf("text records are printed by the command")
	}
}

// Result writes one method response.
func (p *resultPrinter) Result(name string, value rpc.Message) error {
	if p.format == config.OutputText {
		_, err := fmt.Fprintf(p.w, "%s: %s\n", methodColor.Sprint(name), valueColor.Sprint(formatText(value)))
		return err
	}

	record := orderedmap.New[string, any]()
	record.Set("method", name)
	record.Set("value", plain(value))
	return p.Print(record)
}

// Close flushes the YAML stream.
func (p *resultPrinter) Close() error {
	if p.yaml != nil {
		return p.yaml.Close()
	}
	return nil
}

// plain converts decoded values into JSON and YAML friendly shapes.
// Bytes become hex strings and CBOR maps get string keys.
func plain(v any) any {
	switch t := v.(type) {
	case []byte:
		return hex.EncodeToString(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = plain(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	default:
		return v
	}
}

// formatText renders a value on a single line.
func formatText(v any) string {
	switch t := plain(v).(type) {
	case nil:
		return "null"
	case string:
		if _, ok := v.([]byte); ok {
			if t == "" {
				return "(empty)"
			}
			return "0x" + t
		}
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}
