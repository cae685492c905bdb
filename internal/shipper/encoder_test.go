package shipper

import (
	"bytes"
	"io"
	"testing"

	"tracing-s3/internal/model"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_Serialize(t *testing.T) {
	enc := NewEncoder(false)

	line, err := enc.Serialize(rec40("x"))
	require.NoError(t, err)
	assert.Len(t, line, 40)

	line, err = enc.Serialize(model.Record{"msg": "a\nb"})
	require.NoError(t, err)
	assert.NotContains(t, line, "\n")
}

func TestEncoder_SerializeMalformed(t *testing.T) {
	_, err := NewEncoder(false).Serialize(model.Record{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestEncoder_EncodeBodyPlain(t *testing.T) {
	body, err := NewEncoder(false).EncodeBody(Batch{Lines: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(body))
}

func TestEncoder_EncodeBodyGzipMembersConcatenate(t *testing.T) {
	enc := NewEncoder(true)

	first, err := enc.EncodeBody(Batch{Lines: []string{"a", "b"}})
	require.NoError(t, err)
	second, err := enc.EncodeBody(Batch{Lines: []string{"c"}})
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(append(first, second...)))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(out))
}
