package http_server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danthegoodman1/icequery/page_cache"
	"github.com/danthegoodman1/icequery/parquet_writer"
	"github.com/danthegoodman1/icequery/pipeline"
	"github.com/danthegoodman1/icequery/query"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	pipeline.RegisterFunctions()
	cache, err := page_cache.NewWithSize(100)
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}
	return &HTTPServer{Echo: e, Cache: cache}
}

func writeFixture(t *testing.T, numRows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.parquet")
	var rows []map[string]any
	for i := 0; i < numRows; i++ {
		rows = append(rows, map[string]any{
			"name":     fmt.Sprintf("row-%03d", i),
			"quantity": float64(i * 10),
		})
	}
	if err := parquet_writer.WriteFile(path, rows, nil); err != nil {
		t.Fatal(err)
	}
	return path
}

func doQuery(t *testing.T, s *HTTPServer, body QueryReqBody) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(b))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := s.Echo.NewContext(req, rec)
	cc := &CustomContext{Context: c, RequestID: "test"}
	if err := s.QueryHandler(cc); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestQueryHandlerStreamsNDJSON(t *testing.T) {
	s := newTestServer(t)
	path := writeFixture(t, 5)

	rec := doQuery(t, s, QueryReqBody{
		Files:  []string{path},
		Filter: []any{map[string]any{"path": "quantity", "min": float64(10), "max": float64(30)}},
		Fields: []query.FieldSpec{{Path: "name"}, {Path: "quantity"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d: %s", len(lines), rec.Body.String())
	}
	for i, line := range lines {
		var rowMap map[string]any
		if err := json.Unmarshal([]byte(line), &rowMap); err != nil {
			t.Fatal(err)
		}
		if rowMap["quantity"] != float64((i+1)*10) {
			t.Fatalf("line %d: %+v", i, rowMap)
		}
	}
}

func TestQueryHandlerRejectsBadFilter(t *testing.T) {
	s := newTestServer(t)
	path := writeFixture(t, 2)

	rec := doQuery(t, s, QueryReqBody{
		Files:  []string{path},
		Filter: []any{map[string]any{"path": "quantity", "vlaue": float64(1)}},
		Fields: []query.FieldSpec{{Path: "name"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueryHandlerRejectsUnknownColumn(t *testing.T) {
	s := newTestServer(t)
	path := writeFixture(t, 2)

	rec := doQuery(t, s, QueryReqBody{
		Files:  []string{path},
		Fields: []query.FieldSpec{{Path: "nope"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
}
