package aclhelper

import (
	"bytes"
	"context"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{Q: "access % alice R", StdinPath: "/tmp/in", StdoutPath: "/tmp/out"}
	var buf bytes.Buffer
	if err := WriteRecord(&buf, rec); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRecord(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestRecordFieldTooLongRejected(t *testing.T) {
	long := make([]byte, recordFieldLen)
	for i := range long {
		long[i] = 'x'
	}
	var buf bytes.Buffer
	err := WriteRecord(&buf, Record{Q: string(long)})
	if err == nil {
		t.Fatalf("expected error for an over-length field")
	}
}

func TestSplitArgs(t *testing.T) {
	got := splitArgs("access  % alice  R")
	want := []string{"access", "%", "alice", "R"}
	if len(got) != len(want) {
		t.Fatalf("splitArgs(%q) = %v, want %v", "access  % alice  R", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitArgs(%q)[%d] = %q, want %q", "access  % alice  R", i, got[i], want[i])
		}
	}
}

func TestChildEchoesResultsInOrder(t *testing.T) {
	var calls []Record
	run := func(ctx context.Context, rec Record) (int, error) {
		calls = append(calls, rec)
		if rec.Q == "deny" {
			return 1, nil
		}
		return 0, nil
	}

	var reqBuf bytes.Buffer
	for _, q := range []string{"allow", "deny", "allow"} {
		if err := WriteRecord(&reqBuf, Record{Q: q}); err != nil {
			t.Fatal(err)
		}
	}

	var respBuf bytes.Buffer
	if err := Child(context.Background(), &reqBuf, &respBuf, run); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 3 {
		t.Fatalf("run invoked %d times, want 3", len(calls))
	}
	want := []int32{0, 1, 0}
	for _, w := range want {
		rc, err := ReadResult(&respBuf)
		if err != nil {
			t.Fatal(err)
		}
		if rc != w {
			t.Fatalf("result = %d, want %d", rc, w)
		}
	}
}

func TestHelperQueryInProcess(t *testing.T) {
	h := NewInProcess(context.Background(), func(ctx context.Context, rec Record) (int, error) {
		if rec.Q == "access % bob R myrepo" {
			return 0, nil
		}
		return 1, nil
	})
	defer h.Shutdown()

	rc, err := h.Query(Record{Q: "access % bob R myrepo"})
	if err != nil {
		t.Fatal(err)
	}
	if rc != 0 {
		t.Fatalf("rc = %d, want 0", rc)
	}

	rc, err = h.Query(Record{Q: "access % eve R myrepo"})
	if err != nil {
		t.Fatal(err)
	}
	if rc != 1 {
		t.Fatalf("rc = %d, want 1", rc)
	}
}
