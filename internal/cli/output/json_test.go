package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/flashwear/pkg/wearlevel"
)

func TestPrintJSON(t *testing.T) {
	rec := wearlevel.BadBlockRecord{BlockID: 7, Reason: wearlevel.ReasonEraseFailed}

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, []wearlevel.BadBlockRecord{rec}))

	out := buf.String()
	assert.Contains(t, out, `"block_id": 7`)
	assert.Contains(t, out, `"reason": "erase failed"`)
}
