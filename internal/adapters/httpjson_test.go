package adapters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalFromWireString(t *testing.T) {
	d, err := decimalFromWire(json.RawMessage(`"123.45600000"`))
	require.NoError(t, err)
	assert.Equal(t, "123.456", d.String())
}

func TestDecimalFromWireNumberToken(t *testing.T) {
	d, err := decimalFromWire(json.RawMessage(`0.00000001`))
	require.NoError(t, err)
	assert.Equal(t, "0.00000001", d.String())
}

func TestDecimalFromWireRejectsNonNumeric(t *testing.T) {
	_, err := decimalFromWire(json.RawMessage(`{"x":1}`))
	assert.Error(t, err)
}
