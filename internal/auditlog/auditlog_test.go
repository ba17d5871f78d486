package auditlog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open("mongodb://localhost/audit"); err == nil {
		t.Fatal("expected Open to reject an unsupported DSN scheme")
	}
}

func TestRecordSuccessAndFailureAppearInRecent(t *testing.T) {
	l := openTestLedger(t)
	start := time.Now()

	if err := l.RecordSuccess(start, "/tmp/out1.img", 2, 3, 10, "deadbeef"); err != nil {
		t.Fatalf("RecordSuccess: %v", err)
	}
	if err := l.RecordFailure(start, "/tmp/out2.img", errors.New("missing -c")); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	recs, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	// newest first
	if recs[0].OutputPath != "/tmp/out2.img" || recs[0].Succeeded {
		t.Fatalf("unexpected newest record: %+v", recs[0])
	}
	if recs[1].OutputPath != "/tmp/out1.img" || !recs[1].Succeeded || recs[1].NumHosts != 2 {
		t.Fatalf("unexpected oldest record: %+v", recs[1])
	}
	if recs[1].NumComponents != 3 || recs[1].OutputSHA256 != "deadbeef" {
		t.Fatalf("unexpected oldest record audit fields: %+v", recs[1])
	}
}
