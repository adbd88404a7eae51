package parser

import (
	"errors"
	"strings"
	"testing"
)

func TestReadListSkipsCommentsBlanksAndRepeats(t *testing.T) {
	input := strings.Join([]string{
		"# device groups synced nightly",
		"dg-east",
		"",
		"  dg-west  ",
		"dg-east",
		"#dg-retired",
	}, "\n")

	values, err := ReadList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 2 || values[0] != "dg-east" || values[1] != "dg-west" {
		t.Fatalf("unexpected values: %#v", values)
	}
}

func TestReadListEmptyInput(t *testing.T) {
	values, err := ReadList(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no values, got %#v", values)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestReadListPropagatesReadErrors(t *testing.T) {
	if _, err := ReadList(failingReader{}); err == nil || !strings.Contains(err.Error(), "disk gone") {
		t.Fatalf("expected read error, got %v", err)
	}
}
