package scserver

import (
	"bytes"
	"testing"
)

func TestCodecSentinelFrames(t *testing.T) {
	t.Parallel()

	codec := JSONCodec{}
	for _, sentinel := range []string{"#1", "#2"} {
		data, err := codec.Encode(sentinel)
		if err != nil {
			t.Fatalf("Encode(%q) error = %v", sentinel, err)
		}
		if !bytes.Equal(data, []byte(sentinel)) {
			t.Errorf("Encode(%q) = %q, want the raw sentinel bytes", sentinel, data)
		}

		v, err := codec.Decode([]byte(sentinel))
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", sentinel, err)
		}
		if v != sentinel {
			t.Errorf("Decode(%q) = %v, want the sentinel string", sentinel, v)
		}
	}

	// Ordinary strings still travel as JSON.
	data, err := codec.Encode("hello")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `"hello"` {
		t.Errorf("Encode(hello) = %q, want JSON string", data)
	}
}
