package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger_RedirectsAndMutes(t *testing.T) {
	orig := Logf
	t.Cleanup(func() { Logf = orig })

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("altitude dropped value=%v", 1.5)
	if len(got) != 1 || got[0] != "altitude dropped value=1.5" {
		t.Fatalf("got=%q", got)
	}

	SetLogger(nil)
	Logf("should be discarded")
	if len(got) != 1 {
		t.Fatalf("expected no-op logger, got=%q", got)
	}
}
