package output

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"
)

// PrintYAML writes data as YAML. The value goes through encoding/json
// first so field names and enum spellings match the JSON output; JSON is
// valid YAML, so decoding it into a yaml.Node keeps the key order.
func PrintYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return err
	}
	clearStyle(&node)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(&node)
}

// clearStyle drops the flow and quoting styles inherited from JSON.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
