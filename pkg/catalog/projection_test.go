package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/webpods-org/webpods/pkg/types"
)

func TestListRecords_FieldProjection(t *testing.T) {
	c := newTestCatalog(t)
	stream := newTestStream(t, c, "alice", "/blog")
	ctx := context.Background()

	appendText(t, c, stream, "post", "body text")

	list, err := c.ListRecords(ctx, stream, types.ListOptions{
		Fields: []string{"name", "hash", "bogus-field"},
	})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	record := list.Records[0]

	if record.Name != "post" || record.Hash == "" {
		t.Errorf("projected fields missing: %+v", record)
	}
	// Unselected string fields are blanked; unknown names are silently dropped
	if record.Content != "" {
		t.Errorf("content survived projection: %q", record.Content)
	}
	if record.UserID != "" || record.Path != "" {
		t.Errorf("unselected fields survived: %+v", record)
	}
}

func TestListRecords_MaxContentSize(t *testing.T) {
	c := newTestCatalog(t)
	stream := newTestStream(t, c, "alice", "/blog")
	ctx := context.Background()

	long := strings.Repeat("x", 500)
	appendText(t, c, stream, "text", long)

	jsonStream := newTestStream(t, c, "alice", "/data")
	if _, err := c.Append(ctx, jsonStream, "U1", AppendOptions{
		Name:        "doc",
		Content:     []byte(`{"big":"` + long + `"}`),
		ContentType: "application/json",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Plain text is truncated
	list, err := c.ListRecords(ctx, stream, types.ListOptions{MaxContentSize: 10})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if got := list.Records[0].Content; len(got) != 10 {
		t.Errorf("truncated content length = %d, want 10", len(got))
	}

	// JSON content is left intact
	list, err = c.ListRecords(ctx, jsonStream, types.ListOptions{MaxContentSize: 10})
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if got := list.Records[0].Content; len(got) <= 10 {
		t.Errorf("JSON content was truncated to %d bytes", len(got))
	}

	// The original rows are untouched
	record, err := c.GetRecordByName(ctx, stream, "text", false)
	if err != nil || len(record.Content) != 500 {
		t.Errorf("stored content mutated: len %d, err %v", len(record.Content), err)
	}
}
