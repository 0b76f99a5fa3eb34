package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/queryhub/queryhub/internal/completion"
)

func TestFormatUsesModelSummary(t *testing.T) {
	fake := &fakeCompletion{response: "East leads with 15 total."}
	formatter, err := NewCompletionFormatter(fake)
	if err != nil {
		t.Fatalf("NewCompletionFormatter() error = %v", err)
	}

	summary, err := formatter.Format(context.Background(), Request{
		Question: "total amount by region",
		SQL:      "SELECT region, SUM(amount) FROM sales GROUP BY region",
		Columns:  []string{"region", "total"},
		Rows:     [][]any{{"east", 15.0}, {"west", 7.0}},
	})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if summary != "East leads with 15 total." {
		t.Fatalf("summary = %q", summary)
	}
	if !strings.Contains(fake.lastUserPrompt, `"east"`) {
		t.Fatalf("prompt missing result rows: %s", fake.lastUserPrompt)
	}
}

func TestFormatEmptyResultSkipsModel(t *testing.T) {
	fake := &fakeCompletion{}
	formatter, err := NewCompletionFormatter(fake)
	if err != nil {
		t.Fatalf("NewCompletionFormatter() error = %v", err)
	}

	summary, err := formatter.Format(context.Background(), Request{TableName: "sales"})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(summary, "No rows") {
		t.Fatalf("summary = %q", summary)
	}
	if fake.calls != 0 {
		t.Fatalf("model calls = %d, want 0", fake.calls)
	}
}

func TestFormatFallsBackWhenModelFails(t *testing.T) {
	fake := &fakeCompletion{err: errors.New("provider down")}
	formatter, err := NewCompletionFormatter(fake)
	if err != nil {
		t.Fatalf("NewCompletionFormatter() error = %v", err)
	}

	summary, err := formatter.Format(context.Background(), Request{
		Columns: []string{"region", "total"},
		Rows:    [][]any{{"east", 15.0}},
	})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(summary, "1 row(s)") {
		t.Fatalf("summary = %q", summary)
	}
	if !strings.Contains(summary, "region, total") {
		t.Fatalf("summary = %q", summary)
	}
}

func TestFormatTruncatesPromptRows(t *testing.T) {
	fake := &fakeCompletion{response: "ok"}
	formatter, err := NewCompletionFormatter(fake)
	if err != nil {
		t.Fatalf("NewCompletionFormatter() error = %v", err)
	}

	rows := make([][]any, maxPromptRows+20)
	for i := range rows {
		rows[i] = []any{i}
	}
	_, err = formatter.Format(context.Background(), Request{Columns: []string{"n"}, Rows: rows})
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	if !strings.Contains(fake.lastUserPrompt, "Only the first 50 of 70 rows are shown.") {
		t.Fatalf("prompt missing truncation note: %s", fake.lastUserPrompt)
	}
}

type fakeCompletion struct {
	response       string
	err            error
	calls          int
	lastUserPrompt string
}

func (f *fakeCompletion) Complete(_ context.Context, messages []completion.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for _, msg := range messages {
		if msg.Role == "user" {
			f.lastUserPrompt = msg.Content
		}
	}
	return f.response, nil
}

func (f *fakeCompletion) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("not implemented")
}
