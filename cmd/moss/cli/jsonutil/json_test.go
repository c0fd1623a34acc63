package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Format(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]string{"cmd": "a && b <c>"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"cmd\": \"a && b <c>\"\n}\n", string(data))
}

func TestMarshal_Error(t *testing.T) {
	t.Parallel()

	_, err := Marshal(make(chan int))
	assert.ErrorContains(t, err, "encoding JSON")
}
