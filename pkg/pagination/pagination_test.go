package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor(""); err != nil || c != nil {
		t.Fatalf("empty cursor should be nil, got %v %v", c, err)
	}
	for _, raw := range []string{"***", "bm8tcGlwZQ", "eHx5"} {
		if _, err := ParseCursor(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSplit(t *testing.T) {
	now := time.Now().UTC()
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: now.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	key := func(c Cursor) Cursor { return c }

	page, next := Split(rows, 3, key)
	if len(page) != 3 || next == nil || next.ID != rows[2].ID {
		t.Fatalf("expected 3 rows and a cursor at the last kept row, got %d %v", len(page), next)
	}

	page, next = Split(rows[:2], 3, key)
	if len(page) != 2 || next != nil {
		t.Fatalf("short page should not produce a cursor")
	}

	if NormalizeLimit(0) != DefaultLimit || NormalizeLimit(1000) != MaxLimit || LimitWithBuffer(10) != 11 {
		t.Fatalf("limit normalization broken")
	}
}
