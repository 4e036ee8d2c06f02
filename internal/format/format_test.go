package format

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Path      string `json:"path,omitempty"`
}

func TestYAMLFormatterUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	if err := (YAMLFormatter{}).Write(&buf, []sample{{Name: "a.png", SizeBytes: 4}}); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "name: a.png") || !strings.Contains(out, "size_bytes: 4") {
		t.Fatalf("unexpected yaml output:\n%s", out)
	}
	if strings.Contains(out, "path") {
		t.Fatalf("omitempty fields must be dropped:\n%s", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).Write(&buf, sample{Name: "b"}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{"name":"b","size_bytes":0}` {
		t.Fatalf("unexpected json: %s", buf.String())
	}
}

func TestForName(t *testing.T) {
	if _, err := ForName("yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if f, err := ForName(""); err != nil {
		t.Fatalf("default: %v", err)
	} else if _, ok := f.(JSONFormatter); !ok {
		t.Fatalf("expected json default, got %T", f)
	}
	if _, err := ForName("xml"); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestHumanHelpers(t *testing.T) {
	if got := Bytes(1500); got != "1.5 kB" {
		t.Fatalf("Bytes(1500)=%q", got)
	}
	if got := Bytes(-5); got != "0 B" {
		t.Fatalf("Bytes(-5)=%q", got)
	}
	if got := Ago(time.Time{}); got != "-" {
		t.Fatalf("Ago(zero)=%q", got)
	}
}
