package contenthash

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference digests computed independently with SHA-256 over 4 MiB blocks.
func TestKnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		expect string
	}{
		{"empty", nil, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"hello", []byte("hello"), "9595c9df90075148eb06860365df33584b75bff782a510c6cd4883a419833d50"},
		{"one full block", bytes.Repeat([]byte("a"), BlockSize), "907a506cf5e706bda5c7a29b43c9c65d8344bd2fa2f22339b359c214812af5a1"},
		{"block plus one", bytes.Repeat([]byte("a"), BlockSize+1), "5f858b62ccd88447586305aec6fd53c96747cfebf527cbba129a6dfed47d9624"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Sum(tt.input))
		})
	}
}

func TestIncrementalWritesMatchOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), BlockSize/5)

	h := New()
	for off := 0; off < len(data); off += 777_777 {
		end := min(off+777_777, len(data))
		n, err := h.Write(data[off:end])
		require.NoError(t, err)
		assert.Equal(t, end-off, n)
	}

	assert.Equal(t, Sum(data), hex.EncodeToString(h.Sum(nil)))
}

func TestSumDoesNotChangeState(t *testing.T) {
	h := New()
	h.Write([]byte("hel"))
	_ = h.Sum(nil)
	h.Write([]byte("lo"))

	assert.Equal(t, Sum([]byte("hello")), hex.EncodeToString(h.Sum(nil)))
}

func TestReset(t *testing.T) {
	h := New()
	h.Write(bytes.Repeat([]byte("x"), BlockSize+10))
	h.Reset()
	h.Write([]byte("hello"))

	assert.Equal(t, Sum([]byte("hello")), hex.EncodeToString(h.Sum(nil)))
	assert.Equal(t, Size, h.Size())
}

func TestReader(t *testing.T) {
	got, err := Reader(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("hello")), got)
}
