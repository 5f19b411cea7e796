package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSinkWriter_DropsWhenFull(t *testing.T) {
	w := newSinkWriter("test", "http://127.0.0.1:0", nil, 2)

	for i := 0; i < 5; i++ {
		w.enqueue([]byte(`{"message":"x"}`))
	}

	assert.Equal(t, uint64(3), w.Dropped())
	assert.Len(t, w.entries, 2)
}
