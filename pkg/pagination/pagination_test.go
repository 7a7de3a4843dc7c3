package pagination

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 12, 30, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(in)
	if strings.ContainsAny(token, "=+") {
		t.Fatalf("cursor is not url safe: %q", token)
	}

	out, err := ParseCursor(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !in.CreatedAt.Equal(out.CreatedAt) || in.ID != out.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", in, out)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cursor, err := ParseCursor("  ")
	if err != nil || cursor != nil {
		t.Fatalf("blank cursor should be nil, got %v, %v", cursor, err)
	}
	if _, err := ParseCursor("not-a-cursor!"); err == nil {
		t.Fatalf("expected error for malformed cursor")
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultLimit},
		{MaxLimit + 50, MaxLimit},
		{7, 7},
	}
	for _, tc := range cases {
		if got := NormalizeLimit(tc.in); got != tc.want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := LimitWithBuffer(7); got != 8 {
		t.Fatalf("LimitWithBuffer(7) = %d", got)
	}
}

type row struct {
	id      uuid.UUID
	created time.Time
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{id: uuid.New(), created: base.Add(-time.Duration(i) * time.Hour)}
	}
	key := func(r row) Cursor { return Cursor{CreatedAt: r.created, ID: r.id} }

	page, next := Trim(rows, 3, key)
	if len(page) != 3 || next == "" {
		t.Fatalf("expected a full page with a cursor, got %d rows and %q", len(page), next)
	}
	cursor, err := ParseCursor(next)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cursor.ID != rows[2].id {
		t.Fatalf("cursor should point at the last returned row")
	}

	page, next = Trim(rows[:2], 3, key)
	if len(page) != 2 || next != "" {
		t.Fatalf("expected a short final page, got %d rows and %q", len(page), next)
	}
}
