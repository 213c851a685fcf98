package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t, 3, 2)
	router := gin.New()
	NewHandler(f.svc).RegisterRoutes(router.Group("/v1"))
	return router, f
}

// seedRequests inserts n terminal requests directly, newest last, spaced
// one hour apart.
func seedRequests(t *testing.T, f *fixture, n int) []*Request {
	t.Helper()
	base := time.Now().Add(-72 * time.Hour)

	seeded := make([]*Request, 0, n)
	for i := 0; i < n; i++ {
		req := &Request{
			ID:             fmt.Sprintf("rcv_seed%02d", i),
			WalletIdentity: fmt.Sprintf("0x%040d", i),
			ProposedNewOwner: testNewOwner,
			InitiatedAt:    base.Add(time.Duration(i) * time.Hour),
			ExecutesAt:     base.Add(time.Duration(i)*time.Hour + 48*time.Hour),
			Status:         StatusCancelled,
		}
		if err := f.store.Create(context.Background(), req); err != nil {
			t.Fatalf("seed request %d: %v", i, err)
		}
		seeded = append(seeded, req)
	}
	return seeded
}

type listResponse struct {
	Requests   []*Request `json:"requests"`
	Count      int        `json:"count"`
	NextCursor string     `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
}

func getList(t *testing.T, router *gin.Engine, url string) listResponse {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", url, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", url, w.Code, w.Body.String())
	}
	var resp listResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return resp
}

func TestListRequests_Pagination(t *testing.T) {
	router, f := newTestRouter(t)
	seedRequests(t, f, 5)

	first := getList(t, router, "/v1/recovery?limit=2")
	if first.Count != 2 {
		t.Fatalf("expected 2 requests, got %d", first.Count)
	}
	if !first.HasMore || first.NextCursor == "" {
		t.Fatal("expected hasMore with a next cursor")
	}
	// Newest first
	if first.Requests[0].ID != "rcv_seed04" || first.Requests[1].ID != "rcv_seed03" {
		t.Fatalf("unexpected page order: %s, %s", first.Requests[0].ID, first.Requests[1].ID)
	}

	second := getList(t, router, "/v1/recovery?limit=2&cursor="+first.NextCursor)
	if second.Count != 2 {
		t.Fatalf("expected 2 requests on second page, got %d", second.Count)
	}
	if second.Requests[0].ID != "rcv_seed02" || second.Requests[1].ID != "rcv_seed01" {
		t.Fatalf("unexpected second page: %s, %s", second.Requests[0].ID, second.Requests[1].ID)
	}

	third := getList(t, router, "/v1/recovery?limit=2&cursor="+second.NextCursor)
	if third.Count != 1 {
		t.Fatalf("expected 1 request on last page, got %d", third.Count)
	}
	if third.HasMore || third.NextCursor != "" {
		t.Fatal("last page should not report more results")
	}
	if third.Requests[0].ID != "rcv_seed00" {
		t.Fatalf("unexpected last page item: %s", third.Requests[0].ID)
	}
}

func TestListRequests_PaginatesPastFifty(t *testing.T) {
	router, f := newTestRouter(t)
	seedRequests(t, f, 60)

	seen := make(map[string]bool)
	url := "/v1/recovery?limit=20"
	pages := 0
	for {
		resp := getList(t, router, url)
		for _, r := range resp.Requests {
			if seen[r.ID] {
				t.Fatalf("request %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
		pages++
		if !resp.HasMore {
			break
		}
		if resp.NextCursor == "" {
			t.Fatal("hasMore without a next cursor")
		}
		url = "/v1/recovery?limit=20&cursor=" + resp.NextCursor
	}

	if len(seen) != 60 {
		t.Fatalf("expected all 60 requests across pages, got %d", len(seen))
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages of 20, got %d", pages)
	}
}

func TestListRequests_WalletFilter(t *testing.T) {
	router, f := newTestRouter(t)
	seeded := seedRequests(t, f, 3)

	resp := getList(t, router, "/v1/recovery?wallet="+seeded[1].WalletIdentity)
	if resp.Count != 1 {
		t.Fatalf("expected 1 request for wallet, got %d", resp.Count)
	}
	if resp.Requests[0].ID != seeded[1].ID {
		t.Fatalf("unexpected request: %s", resp.Requests[0].ID)
	}
}

func TestListRequests_InvalidCursor(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/recovery?cursor=not-base64!!!", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid cursor, got %d", w.Code)
	}
}

func TestInitiate_RejectsMalformedIdentityWithFields(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	body := `{"walletIdentity":"not-an-address","proposedNewOwner":"` + testNewOwner + `"}`
	req := httptest.NewRequest("POST", "/v1/recovery", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error  string `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Error != "validation_failed" {
		t.Fatalf("expected validation_failed, got %q", resp.Error)
	}
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "walletIdentity" {
		t.Fatalf("expected a walletIdentity field error, got %+v", resp.Fields)
	}
}

func TestApprove_RejectsNonHexProof(t *testing.T) {
	router, f := newTestRouter(t)

	created, err := f.svc.Initiate(context.Background(), testWallet, testNewOwner, false)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	w := httptest.NewRecorder()
	body := `{"guardianIdentity":"` + f.idents[0] + `","proof":"zz-not-hex"}`
	req := httptest.NewRequest("POST", "/v1/recovery/"+created.ID+"/approvals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-hex proof, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/recovery/rcv_missing", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
