package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/cdr-backoffice/internal/config"
	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/report"
	"github.com/kirillkom/cdr-backoffice/internal/observability/metrics"
)

type reportsFake struct {
	docs     map[string]domain.Document
	badCases map[string]domain.BadCase
	err      error
}

func (f reportsFake) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &doc, nil
}

func (f reportsFake) ListDocuments(context.Context, domain.DocumentStatus, int) ([]domain.Document, error) {
	return nil, f.err
}

func (f reportsFake) GetBadCase(_ context.Context, id string) (*domain.BadCase, error) {
	bc, ok := f.badCases[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrBadCaseNotFound, "get bad case", errors.New(id))
	}
	return &bc, nil
}

func (f reportsFake) ListBadCasesByDocument(_ context.Context, documentID string) ([]domain.BadCase, error) {
	var out []domain.BadCase
	for _, bc := range f.badCases {
		if bc.DocumentID == documentID {
			out = append(out, bc)
		}
	}
	return out, nil
}

func (f reportsFake) DocumentStats(context.Context) (domain.DocumentStats, error) {
	if f.err != nil {
		return domain.DocumentStats{}, f.err
	}
	return domain.DocumentStats{TotalDocuments: len(f.docs)}, nil
}

func (f reportsFake) BadCaseStats(context.Context) (domain.BadCaseStats, error) {
	return domain.BadCaseStats{TotalBadCases: len(f.badCases)}, nil
}

type opsFake struct {
	scanErr   error
	retryErr  error
	published []domain.Task
}

func (f *opsFake) ScanNewFiles(context.Context) (domain.ScanReport, error) {
	return domain.ScanReport{Discovered: 2, Claimed: 2, DocumentIDs: []string{"a", "b"}}, f.scanErr
}

func (f *opsFake) RetryDocument(context.Context, string) error { return f.retryErr }

func (f *opsFake) RetryFailedDocuments(context.Context) (int, error) { return 0, f.retryErr }

func (f *opsFake) RetryBadCase(_ context.Context, id string) (bool, string, error) {
	if f.retryErr != nil {
		return false, "", f.retryErr
	}
	return false, "usage: upstream code 5001", nil
}

func (f *opsFake) SweepSucceeded(context.Context) (int64, error) { return 3, nil }

func (f *opsFake) ReconcileOrphans(context.Context) (domain.OrphanReport, error) {
	return domain.OrphanReport{Adopted: 1}, nil
}

func (f *opsFake) Publish(_ context.Context, task domain.Task) error {
	f.published = append(f.published, task)
	return nil
}

func (f *opsFake) Subscribe(context.Context, func(context.Context, domain.Task) error) error {
	return nil
}

func newTestRouter(reports reportsFake, ops *opsFake) http.Handler {
	return NewRouter(config.Config{}, Services{
		Reports:     reports,
		Scanner:     ops,
		Retry:       ops,
		Maintenance: ops,
		Queue:       ops,
		Metrics:     metrics.NewHTTPServerMetrics("api"),
	}).Handler()
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(method, target, nil))
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(res.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func sampleReports() reportsFake {
	return reportsFake{
		docs: map[string]domain.Document{
			"doc-1": {ID: "doc-1", Filename: "20240115.csv", Status: domain.StatusSuccess, Counters: domain.Counters{Total: 4, Processed: 2, Success: 1, Failed: 1}},
		},
		badCases: map[string]domain.BadCase{
			"bc-1": {ID: "bc-1", DocumentID: "doc-1", ICCID: "8986012345678901234", APIType: domain.APITypeUser},
		},
	}
}

func TestHealthzEndpoint(t *testing.T) {
	res := serve(newTestRouter(reportsFake{}, &opsFake{}), http.MethodGet, "/healthz")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestGetDocumentIncludesDerivedMetrics(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodGet, "/v1/documents/doc-1")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["id"] != "doc-1" || body["progress_percentage"] != 50.0 || body["success_rate"] != 50.0 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestGetDocumentReturns404ForNotFound(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodGet, "/v1/documents/missing")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStatsEndpointHidesInternalErrors(t *testing.T) {
	reports := sampleReports()
	reports.err = errors.New("pq: password authentication failed for user cdr")
	res := serve(newTestRouter(reports, &opsFake{}), http.MethodGet, "/v1/documents/stats")
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if body := decodeBody(t, res); strings.Contains(body["error"].(string), "password") {
		t.Fatalf("internal error leaked: %v", body)
	}
}

func TestRetryDocumentMapsInvalidTransitionTo409(t *testing.T) {
	ops := &opsFake{retryErr: domain.WrapError(domain.ErrInvalidTransition, "retry document", errors.New("document doc-1 is success"))}
	res := serve(newTestRouter(sampleReports(), ops), http.MethodPost, "/v1/documents/doc-1/retry")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestRetryBadCaseExhaustedMapsTo409(t *testing.T) {
	ops := &opsFake{retryErr: domain.WrapError(domain.ErrRetryExhausted, "retry bad case", errors.New("retry_count=2"))}
	res := serve(newTestRouter(sampleReports(), ops), http.MethodPost, "/v1/bad-cases/bc-1/retry")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestRetryBadCaseReturnsOutcome(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodPost, "/v1/bad-cases/bc-1/retry")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["success"] != false || body["message"] != "usage: upstream code 5001" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAsyncTriggersPublishTasks(t *testing.T) {
	ops := &opsFake{}
	handler := newTestRouter(sampleReports(), ops)

	if res := serve(handler, http.MethodPost, "/v1/documents/scan?async=true"); res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if res := serve(handler, http.MethodPost, "/v1/bad-cases/bc-1/retry?async=1"); res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	if len(ops.published) != 2 || ops.published[0].Type != domain.TaskScan || ops.published[1].BadCaseID != "bc-1" {
		t.Fatalf("unexpected published tasks %+v", ops.published)
	}
}

func TestSyncScanReturnsReport(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodPost, "/v1/documents/scan")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["claimed"] != 2.0 {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMethodMismatchIsRejected(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodGet, "/v1/maintenance/sweep")
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestExportBadCasesReturnsWorkbook(t *testing.T) {
	res := serve(newTestRouter(sampleReports(), &opsFake{}), http.MethodGet, "/v1/documents/doc-1/bad-cases.xlsx")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); ct != report.ContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	f, err := excelize.OpenReader(bytes.NewReader(res.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("bad_cases")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "bc-1" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestMetricsEndpointIsMounted(t *testing.T) {
	handler := newTestRouter(sampleReports(), &opsFake{})
	serve(handler, http.MethodGet, "/v1/documents/doc-1")

	res := serve(handler, http.MethodGet, "/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `path="/v1/documents/{document_id}"`) {
		t.Fatalf("expected normalized request metric, got:\n%s", res.Body.String())
	}
}
