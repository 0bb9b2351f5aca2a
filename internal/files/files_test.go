package files

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

const pack = `[{"input":"1","expected":"2"},{"input":"2","expected":"4"}]`

func TestDecodeTests(t *testing.T) {
	tests, err := DecodeTests(strings.NewReader(pack), false)
	if err != nil {
		t.Fatalf("DecodeTests failed: %v", err)
	}
	if len(tests) != 2 || tests[1].Expected != "4" {
		t.Fatalf("unexpected tests %+v", tests)
	}
}

func TestDecodeCompressedTests(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	enc.Write([]byte(pack))
	enc.Close()

	tests, err := DecodeTests(&buf, true)
	if err != nil {
		t.Fatalf("DecodeTests failed: %v", err)
	}
	if len(tests) != 2 || tests[0].Input != "1" {
		t.Fatalf("unexpected tests %+v", tests)
	}
}

func TestDecodeInvalidTests(t *testing.T) {
	if _, err := DecodeTests(strings.NewReader("{"), false); err == nil {
		t.Fatalf("expected an error for invalid json")
	}
	if _, err := DecodeTests(strings.NewReader(pack), true); err == nil {
		t.Fatalf("expected an error for a plain stream read as zstd")
	}
}
