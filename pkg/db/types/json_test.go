package dbtypes

import (
	"encoding/json"
	"testing"
)

func TestJSONScanAndValue(t *testing.T) {
	var doc JSON
	if err := doc.Scan([]byte(`{"status":"draft"}`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	value, err := doc.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.(string) != `{"status":"draft"}` {
		t.Fatalf("unexpected value %v", value)
	}

	if err := doc.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if value, _ := doc.Value(); value != nil {
		t.Fatalf("expected nil value for empty document, got %v", value)
	}
	if err := doc.Scan(42); err == nil {
		t.Fatal("expected error for unsupported scan type")
	}
}

func TestJSONEmbedsInsteadOfBase64(t *testing.T) {
	doc, err := NewJSON(map[string]string{"status": "submitted"})
	if err != nil {
		t.Fatalf("new json: %v", err)
	}
	out, err := json.Marshal(struct {
		After JSON `json:"after"`
		Empty JSON `json:"empty"`
	}{After: doc})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"after":{"status":"submitted"},"empty":null}` {
		t.Fatalf("unexpected encoding %s", out)
	}

	var decoded map[string]string
	if err := doc.Decode(&decoded); err != nil || decoded["status"] != "submitted" {
		t.Fatalf("decode failed: %v %v", decoded, err)
	}
}
