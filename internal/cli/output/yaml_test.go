package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func TestPrintYAMLUsesJSONNames(t *testing.T) {
	data := wearlevel.FlashBlock{
		ID:         3,
		EraseCount: 42,
		State:      wearlevel.StateStatic,
		LastAccess: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "id: 3\n")
	assert.Contains(t, out, "erase_count: 42\n")
	assert.Contains(t, out, "state: static\n")
	assert.Contains(t, out, "last_access:")
	assert.Contains(t, out, "2024-05-01T00:00:00Z")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("id:")), bytes.Index(buf.Bytes(), []byte("erase_count:")),
		"keys keep struct order")
}

func TestPrintYAMLArray(t *testing.T) {
	data := []struct {
		Name string `json:"name"`
	}{
		{Name: "a"},
		{Name: "b"},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "- name: a")
	assert.Contains(t, out, "- name: b")
}
