package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinterMessages(t *testing.T) {
	var buf bytes.Buffer
	printer := NewPrinter(&buf, FormatTable, false)

	printer.Success("done")
	printer.Warning("careful")
	printer.Error("failed")
	assert.Equal(t, "done\ncareful\nfailed\n", buf.String())
}

func TestPrinterColor(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, FormatTable, true).Success("done")
	assert.Equal(t, "\033[32mdone\033[0m\n", buf.String())
}

func TestPrintStructured(t *testing.T) {
	value := map[string]int{"bad": 2}
	table := NewTableData("State", "Blocks")
	table.AddRow("bad", "2")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).PrintStructured(value, table))
	assert.Contains(t, buf.String(), `"bad": 2`)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable, false).PrintStructured(value, table))
	assert.Contains(t, buf.String(), "STATE")
	assert.Contains(t, buf.String(), "BLOCKS")
}

func TestPrintFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(struct {
		N int `json:"n"`
	}{N: 1}))
	assert.Contains(t, buf.String(), `"n": 1`)
}
