package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smartnotes/internal/indexing"
	"smartnotes/internal/search"
	"smartnotes/internal/store"
)

type fakeStore struct {
	*store.MemoryStore
	pingFn func(context.Context) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeIndexer struct {
	requestIndexingFn func(context.Context, int64) (indexing.Status, error)
	reindexFn         func(context.Context, int64) (indexing.Status, error)
	forgetFn          func(context.Context, int64, int64) error
	dropFolderFn      func(context.Context, int64) error
	keywordsFn        func(context.Context, int64) (indexing.KeywordStatus, error)
}

func (f *fakeIndexer) RequestIndexing(ctx context.Context, resourceID int64) (indexing.Status, error) {
	if f.requestIndexingFn != nil {
		return f.requestIndexingFn(ctx, resourceID)
	}
	return indexing.StatusQueued, nil
}

func (f *fakeIndexer) Reindex(ctx context.Context, resourceID int64) (indexing.Status, error) {
	if f.reindexFn != nil {
		return f.reindexFn(ctx, resourceID)
	}
	return indexing.StatusQueued, nil
}

func (f *fakeIndexer) Forget(ctx context.Context, folderID, resourceID int64) error {
	if f.forgetFn != nil {
		return f.forgetFn(ctx, folderID, resourceID)
	}
	return nil
}

func (f *fakeIndexer) DropFolder(ctx context.Context, folderID int64) error {
	if f.dropFolderFn != nil {
		return f.dropFolderFn(ctx, folderID)
	}
	return nil
}

func (f *fakeIndexer) Keywords(ctx context.Context, resourceID int64) (indexing.KeywordStatus, error) {
	if f.keywordsFn != nil {
		return f.keywordsFn(ctx, resourceID)
	}
	return indexing.KeywordStatus{ResourceID: resourceID, Keywords: []string{}}, nil
}

type fakeSearcher struct {
	searchFolderFn func(context.Context, int64, int64, string) (search.Response, error)
	searchGroupFn  func(context.Context, int64, int64, string) (search.Response, error)
}

func (f *fakeSearcher) SearchFolder(ctx context.Context, viewerID, folderID int64, query string) (search.Response, error) {
	if f.searchFolderFn != nil {
		return f.searchFolderFn(ctx, viewerID, folderID, query)
	}
	return search.Response{}, nil
}

func (f *fakeSearcher) SearchGroup(ctx context.Context, viewerID, groupID int64, query string) (search.Response, error) {
	if f.searchGroupFn != nil {
		return f.searchGroupFn(ctx, viewerID, groupID, query)
	}
	return search.Response{}, nil
}

type fakeCache struct {
	pingFn func(context.Context) error
}

func (f *fakeCache) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type testServer struct {
	store    *fakeStore
	indexer  *fakeIndexer
	searcher *fakeSearcher
	handler  http.Handler
}

func newTestServer(t *testing.T, snapshots pinger) *testServer {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutGroup(store.Group{ID: 1, Name: "Linear Algebra", OwnerID: 100})
	mem.AddMember(1, 200)
	mem.PutFolder(store.Folder{ID: 10, GroupID: 1, Name: "Week 1"})
	mem.PutResource(store.Resource{ID: 5, FolderID: 10, Title: "Elimination", Type: store.ResourceNotes, Data: "# Elimination"})

	ts := &testServer{
		store:    &fakeStore{MemoryStore: mem},
		indexer:  &fakeIndexer{},
		searcher: &fakeSearcher{},
	}
	svc := New(ts.store, ts.indexer, ts.searcher, snapshots)
	ts.handler = NewHTTPServer(svc, "*").Handler()
	return ts
}

func (ts *testServer) do(method, path, viewer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if viewer != "" {
		req.Header.Set("X-User-ID", viewer)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ok := decodeMap(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeCache{})
	rr := ts.do(http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	checks := payload["checks"].(map[string]any)
	if checks["cache"].(map[string]any)["status"] != "ok" {
		t.Fatalf("unexpected cache check %v", checks["cache"])
	}
}

func TestReadyEndpointDatabaseFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.pingFn = func(context.Context) error { return errors.New("connection refused") }

	rr := ts.do(http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected status %v", payload["status"])
	}
	checks := payload["checks"].(map[string]any)
	if _, ok := checks["cache"]; ok {
		t.Fatalf("cache check reported without a cache: %v", checks)
	}
}

func TestReadyEndpointCacheFailureStaysReady(t *testing.T) {
	ts := newTestServer(t, &fakeCache{pingFn: func(context.Context) error { return errors.New("redis down") }})
	rr := ts.do(http.MethodGet, "/api/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	checks := decodeMap(t, rr)["checks"].(map[string]any)
	if checks["cache"].(map[string]any)["status"] != "error" {
		t.Fatalf("expected cache error, got %v", checks["cache"])
	}
}

func TestRequestIndexingStatusCodes(t *testing.T) {
	cases := []struct {
		status indexing.Status
		code   int
	}{
		{indexing.StatusQueued, http.StatusAccepted},
		{indexing.StatusAlreadyQueued, http.StatusOK},
		{indexing.StatusAlreadyGenerated, http.StatusOK},
	}
	for _, tc := range cases {
		ts := newTestServer(t, nil)
		ts.indexer.requestIndexingFn = func(context.Context, int64) (indexing.Status, error) {
			return tc.status, nil
		}
		rr := ts.do(http.MethodPost, "/api/resources/5/keywords", "200")
		if rr.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.status, tc.code, rr.Code)
		}
		if got := decodeMap(t, rr)["status"]; got != string(tc.status) {
			t.Fatalf("expected status %s, got %v", tc.status, got)
		}
	}
}

func TestRequestIndexingMissingResource(t *testing.T) {
	ts := newTestServer(t, nil)
	called := false
	ts.indexer.requestIndexingFn = func(context.Context, int64) (indexing.Status, error) {
		called = true
		return indexing.StatusQueued, nil
	}
	rr := ts.do(http.MethodPost, "/api/resources/99/keywords", "200")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if called {
		t.Fatalf("pipeline must not be called for a missing resource")
	}
}

func TestRequestIndexingForbiddenForOutsider(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodPost, "/api/resources/5/keywords", "300")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "FORBIDDEN" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestViewerHeaderRequired(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodPost, "/api/resources/5/keywords", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPost, "/api/resources/5/keywords", "abc"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad header, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPost, "/api/resources/abc/keywords", "200"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodGet, "/api/documents/5/keywords", "200"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rr.Code)
	}
}

func TestManageRoutesRequireOwner(t *testing.T) {
	ts := newTestServer(t, nil)
	var dropped, forgotten []int64
	ts.indexer.dropFolderFn = func(_ context.Context, folderID int64) error {
		dropped = append(dropped, folderID)
		return nil
	}
	ts.indexer.forgetFn = func(_ context.Context, folderID, resourceID int64) error {
		forgotten = append(forgotten, folderID, resourceID)
		return nil
	}

	if rr := ts.do(http.MethodDelete, "/api/folders/10/index", "200"); rr.Code != http.StatusForbidden {
		t.Fatalf("member must not drop a folder index, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/api/folders/10/index", "100"); rr.Code != http.StatusOK {
		t.Fatalf("owner drop: expected 200, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/api/resources/77/index", "100"); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing folderId: expected 422, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/api/resources/77/index?folderId=10", "100"); rr.Code != http.StatusOK {
		t.Fatalf("owner forget of a deleted resource: expected 200, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodDelete, "/api/folders/11/index", "100"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing folder: expected 404, got %d", rr.Code)
	}

	if len(dropped) != 1 || dropped[0] != 10 {
		t.Fatalf("unexpected drops %v", dropped)
	}
	if len(forgotten) != 2 || forgotten[0] != 10 || forgotten[1] != 77 {
		t.Fatalf("unexpected forgets %v", forgotten)
	}
}

func TestForgetRejectsResourceFromAnotherFolder(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.PutGroup(store.Group{ID: 2, Name: "Topology", OwnerID: 200})
	ts.store.PutFolder(store.Folder{ID: 30, GroupID: 2, Name: "Open Sets"})
	ts.store.PutResource(store.Resource{ID: 7, FolderID: 30, Title: "Compactness", Type: store.ResourceNotes, Data: "# Compactness"})
	var forgotten []int64
	ts.indexer.forgetFn = func(_ context.Context, folderID, resourceID int64) error {
		forgotten = append(forgotten, folderID, resourceID)
		return nil
	}

	rr := ts.do(http.MethodDelete, "/api/resources/7/index?folderId=10", "100")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a resource outside the folder, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := ts.do(http.MethodDelete, "/api/resources/5/index?folderId=10", "100"); rr.Code != http.StatusOK {
		t.Fatalf("owner forget: expected 200, got %d", rr.Code)
	}
	if len(forgotten) != 2 || forgotten[0] != 10 || forgotten[1] != 5 {
		t.Fatalf("unexpected forgets %v", forgotten)
	}
}

func TestSystemViewerNeedsTrust(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodGet, "/api/resources/5/keywords", "0"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an untrusted system viewer, got %d", rr.Code)
	}

	svc := New(ts.store, ts.indexer, ts.searcher, nil)
	trusted := NewHTTPServer(svc, "*").TrustSystemViewer(true).Handler()
	req := httptest.NewRequest(http.MethodDelete, "/api/folders/10/index", nil)
	req.Header.Set("X-User-ID", "0")
	rr := httptest.NewRecorder()
	trusted.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected trusted system viewer to manage the folder, got %d", rr.Code)
	}
}

func TestKeywordsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.indexer.keywordsFn = func(_ context.Context, resourceID int64) (indexing.KeywordStatus, error) {
		return indexing.KeywordStatus{ResourceID: resourceID, Keywords: []string{"Elimination"}, Generated: true}, nil
	}

	rr := ts.do(http.MethodGet, "/api/resources/5/keywords", "200")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var status indexing.KeywordStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Generated || len(status.Keywords) != 1 || status.Keywords[0] != "Elimination" {
		t.Fatalf("unexpected status %+v", status)
	}

	if rr := ts.do(http.MethodGet, "/api/resources/6/keywords", "200"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing resource: expected 404, got %d", rr.Code)
	}
}

func TestSearchEndpointsPassViewerAndQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	var gotViewer, gotScope int64
	var gotQuery string
	ts.searcher.searchFolderFn = func(_ context.Context, viewerID, folderID int64, query string) (search.Response, error) {
		gotViewer, gotScope, gotQuery = viewerID, folderID, query
		return search.Response{Found: true, Query: query, Results: []search.Result{{ID: 5, Title: "Elimination", Rating: "NA"}}}, nil
	}
	ts.searcher.searchGroupFn = func(context.Context, int64, int64, string) (search.Response, error) {
		return search.Response{}, errors.New("database gone")
	}

	rr := ts.do(http.MethodGet, "/api/folders/10/search?query=gaussian+elimination", "200")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotViewer != 200 || gotScope != 10 || gotQuery != "gaussian elimination" {
		t.Fatalf("unexpected call viewer=%d folder=%d query=%q", gotViewer, gotScope, gotQuery)
	}
	if found := decodeMap(t, rr)["found"]; found != true {
		t.Fatalf("expected found=true, got %v", found)
	}

	rr = ts.do(http.MethodGet, "/api/groups/1/search?query=x", "200")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "SERVER_ERROR" {
		t.Fatalf("unexpected code %v", code)
	}
}
