package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"tradehall.ai/internal/trade"
)

func TestSettledLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewSettledLogger(dir)

	rec := trade.SettledRecord{
		SessionID: "s1",
		A:         "alice",
		B:         "bob",
		AMoney:    50,
		MoneyTax:  5,
		Outcome:   trade.OutcomeCompleted,
		At:        time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := l.Record(rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "settled", "settled-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("glob: %v matches=%v", err, matches)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	if !sc.Scan() {
		t.Fatalf("expected one line")
	}
	var got trade.SettledRecord
	if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SessionID != "s1" || got.AMoney != 50 || got.Outcome != trade.OutcomeCompleted {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
