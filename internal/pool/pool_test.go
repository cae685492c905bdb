package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuffer_ReturnsEmpty(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("dirty")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)
}

func TestPutBody_DropsOversized(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, 64))
	big.WriteString("x")

	// maxCap 보다 크면 Reset 되지 않은 채 버려진다.
	PutBody(big, 8)
	assert.Equal(t, 1, big.Len())
}
