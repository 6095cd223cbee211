package sui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/rpc/provider"
)

const pageFixture = `{
  "jsonrpc": "2.0",
  "id": 1,
  "result": {
    "data": [
      {
        "id": {"txDigest": "A", "eventSeq": "1"},
        "packageId": "0xpkg",
        "transactionModule": "property",
        "sender": "0xsender",
        "type": "0xpkg::property::PropertyCreated",
        "parsedJson": {"property_id": "0x1", "owner": "0xa", "price_per_day": "100", "num_rooms": "2", "property_type": {"variant": "ROOM", "fields": {}}},
        "bcs": "abc",
        "timestampMs": "1700000000000"
      }
    ],
    "nextCursor": {"txDigest": "A", "eventSeq": "1"},
    "hasNextPage": false
  }
}`

func TestClient_QueryEvents(t *testing.T) {
	var params []json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req.Method != "suix_queryEvents" {
			t.Errorf("unexpected method %s", req.Method)
		}
		params = req.Params
		_, _ = w.Write([]byte(pageFixture))
	}))
	defer server.Close()

	client := NewClient(provider.NewHTTPProvider("sui", server.URL, 5*time.Second))
	filter := domain.MoveEventTypeFilter(PackageEventType("0xpkg", "property", "PropertyCreated"))

	page, err := client.QueryEvents(context.Background(), filter, nil, 50, domain.OrderAscending)
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}

	if len(params) != 4 {
		t.Fatalf("expected 4 params, got %d", len(params))
	}
	if string(params[0]) != `{"MoveEventType":"0xpkg::property::PropertyCreated"}` {
		t.Errorf("unexpected filter param %s", params[0])
	}
	if string(params[1]) != "null" {
		t.Errorf("expected null cursor, got %s", params[1])
	}
	if string(params[2]) != "50" || string(params[3]) != "false" {
		t.Errorf("unexpected limit/order params %s %s", params[2], params[3])
	}

	if len(page.Data) != 1 {
		t.Fatalf("expected 1 event, got %d", len(page.Data))
	}
	ev := page.Data[0]
	if ev.ID.TxDigest != "A" || ev.ID.EventSeq != "1" {
		t.Errorf("unexpected id %+v", ev.ID)
	}
	if len(ev.Raw) == 0 {
		t.Error("expected raw payload to be kept")
	}
	if ev.Timestamp().UnixMilli() != 1700000000000 {
		t.Errorf("unexpected timestamp %v", ev.Timestamp())
	}
	if page.NextCursor == nil || page.NextCursor.TxDigest != "A" {
		t.Errorf("unexpected next cursor %+v", page.NextCursor)
	}
}

func TestClient_QueryEventsWithCursorDescending(t *testing.T) {
	var params []json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params []json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		params = req.Params
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"data":[],"nextCursor":null,"hasNextPage":false}}`))
	}))
	defer server.Close()

	client := NewClient(provider.NewHTTPProvider("sui", server.URL, 5*time.Second))
	page, err := client.QueryEvents(
		context.Background(),
		domain.MoveEventTypeFilter("0xpkg::property::PropertyCreated"),
		&domain.EventID{TxDigest: "B", EventSeq: "7"},
		500,
		domain.OrderDescending,
	)
	if err != nil {
		t.Fatalf("QueryEvents failed: %v", err)
	}
	if string(params[1]) != `{"txDigest":"B","eventSeq":"7"}` {
		t.Errorf("unexpected cursor param %s", params[1])
	}
	if string(params[2]) != "50" {
		t.Errorf("expected limit clamped to 50, got %s", params[2])
	}
	if string(params[3]) != "true" {
		t.Errorf("expected descending order, got %s", params[3])
	}
	if len(page.Data) != 0 || page.NextCursor != nil {
		t.Errorf("expected empty page, got %+v", page)
	}
}
