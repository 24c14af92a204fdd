package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"courtline/internal/config"
	"courtline/internal/db"
	"courtline/internal/domain"
	"courtline/internal/engine"
	"courtline/internal/migrate"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("court-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func tokenFor(t *testing.T, actorID, role string) string {
	t.Helper()
	token, err := signDevToken(testSecret, actorID, role, time.Now().UTC())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func fileCase(t *testing.T, srv *testServer, token string) CaseResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases", map[string]any{
		"materia": "CIVIL",
		"venue":   "LA PAZ",
		"subject": "contract dispute",
		"parties": []map[string]any{
			{"role": "plaintiff", "name": "Ana Flores", "actor_id": "ana"},
			{"role": "defendant", "name": "Luis Vargas", "actor_id": "luis"},
		},
	}, authHeader(token))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("file case status %d: %s", res.StatusCode, string(data))
	}
	var created CaseResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return created
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	repToken := tokenFor(t, "rep-1", "representative")
	clerkToken := tokenFor(t, "clerk-1", "clerk")
	officerToken := tokenFor(t, "officer-1", "officer")

	created := fileCase(t, srv, repToken)
	if created.State != domain.StateDraft {
		t.Fatalf("expected draft, got %s", created.State)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "filed",
	}, authHeader(repToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("file transition status %d: %s", res.StatusCode, string(data))
	}
	var filed TransitionResponse
	if err := json.Unmarshal(data, &filed); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if filed.Case.State != domain.StateFiled {
		t.Fatalf("expected filed, got %s", filed.Case.State)
	}
	if len(filed.Deadlines) != 1 || filed.Deadlines[0].Kind != domain.DeadlineService {
		t.Fatalf("expected one service deadline, got %+v", filed.Deadlines)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "service_pending",
	}, authHeader(clerkToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("service transition status %d: %s", res.StatusCode, string(data))
	}
	var servicePending TransitionResponse
	if err := json.Unmarshal(data, &servicePending); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if len(servicePending.Citations) != 1 {
		t.Fatalf("expected one citation for the defendant, got %d", len(servicePending.Citations))
	}
	citationID := servicePending.Citations[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/citations/"+citationID+"/attempts", map[string]any{
		"method":  "in_person",
		"outcome": "success",
	}, authHeader(officerToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attempt status %d: %s", res.StatusCode, string(data))
	}
	var attempt AttemptResponse
	if err := json.Unmarshal(data, &attempt); err != nil {
		t.Fatalf("unmarshal attempt: %v", err)
	}
	if attempt.Citation.State != domain.CitationSuccessful {
		t.Fatalf("expected successful citation, got %s", attempt.Citation.State)
	}
	if attempt.CaseState != domain.StateAnswerPending {
		t.Fatalf("expected case to advance to answer_pending, got %s", attempt.CaseState)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cases/"+created.ID+"/deadlines", nil, authHeader(clerkToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list deadlines status %d: %s", res.StatusCode, string(data))
	}
	var deadlines []DeadlineResponse
	if err := json.Unmarshal(data, &deadlines); err != nil {
		t.Fatalf("unmarshal deadlines: %v", err)
	}
	statusByKind := map[string]string{}
	for _, d := range deadlines {
		statusByKind[d.Kind] = d.Status
	}
	if statusByKind[domain.DeadlineService] != domain.DeadlineFulfilled {
		t.Fatalf("expected service deadline fulfilled, got %q", statusByKind[domain.DeadlineService])
	}
	if statusByKind[domain.DeadlineAnswer] != domain.DeadlineActive {
		t.Fatalf("expected answer deadline active, got %q", statusByKind[domain.DeadlineAnswer])
	}
}

func TestForbiddenTransitionRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	repToken := tokenFor(t, "rep-1", "representative")
	officerToken := tokenFor(t, "officer-1", "officer")

	created := fileCase(t, srv, repToken)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "filed",
	}, authHeader(officerToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestIllegalTransitionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	repToken := tokenFor(t, "rep-1", "representative")
	created := fileCase(t, srv, repToken)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "judgment",
	}, authHeader(repToken))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEdictEscalationOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	repToken := tokenFor(t, "rep-1", "representative")
	clerkToken := tokenFor(t, "clerk-1", "clerk")
	officerToken := tokenFor(t, "officer-1", "officer")

	created := fileCase(t, srv, repToken)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "filed",
	}, authHeader(repToken))
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cases/"+created.ID+"/transition", map[string]any{
		"target_state": "service_pending",
	}, authHeader(clerkToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("service transition status %d: %s", res.StatusCode, string(data))
	}
	var servicePending TransitionResponse
	_ = json.Unmarshal(data, &servicePending)
	citationID := servicePending.Citations[0].ID

	var last AttemptResponse
	for i := 0; i < 3; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/citations/"+citationID+"/attempts", map[string]any{
			"method":  "in_person",
			"outcome": "failure",
		}, authHeader(officerToken))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("attempt %d status %d: %s", i+1, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("unmarshal attempt: %v", err)
		}
	}
	if last.Citation.State != domain.CitationFailed {
		t.Fatalf("expected failed after three failures, got %s", last.Citation.State)
	}
	if !last.EdictRequired {
		t.Fatal("expected edict_required after exhausting direct service")
	}

	// A fourth attempt on the exhausted citation is rejected.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/citations/"+citationID+"/attempts", map[string]any{
		"method":  "in_person",
		"outcome": "failure",
	}, authHeader(officerToken))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on resolved citation, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/citations/"+citationID+"/edict", nil, authHeader(clerkToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("order edict status %d: %s", res.StatusCode, string(data))
	}
	var edict CitationResponse
	if err := json.Unmarshal(data, &edict); err != nil {
		t.Fatalf("unmarshal edict: %v", err)
	}
	if edict.Method != domain.MethodEdict || edict.State != domain.CitationPending {
		t.Fatalf("expected pending edict citation, got %+v", edict)
	}
}

func TestIdentifierEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	clerkToken := tokenFor(t, "clerk-1", "clerk")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/identifiers", map[string]any{
		"materia": "CIVIL",
		"venue":   "LA PAZ",
	}, authHeader(clerkToken))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("allocate status %d: %s", res.StatusCode, string(data))
	}
	var allocated IdentifierResponse
	if err := json.Unmarshal(data, &allocated); err != nil {
		t.Fatalf("unmarshal identifier: %v", err)
	}
	if !allocated.Valid {
		t.Fatalf("allocated identifier not valid: %+v", allocated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/identifiers/"+allocated.ID, nil, authHeader(clerkToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var checked IdentifierResponse
	if err := json.Unmarshal(data, &checked); err != nil {
		t.Fatalf("unmarshal identifier: %v", err)
	}
	if !checked.Valid {
		t.Fatalf("expected valid identifier, got %+v", checked)
	}

	// Corrupting the check digits must fail validation but still parse.
	corrupted := allocated.ID[:len(allocated.ID)-2] + fmt.Sprintf("%02d", (allocated.Check+1)%100)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/identifiers/"+corrupted, nil, authHeader(clerkToken))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate corrupted status %d: %s", res.StatusCode, string(data))
	}
	var bad IdentifierResponse
	if err := json.Unmarshal(data, &bad); err != nil {
		t.Fatalf("unmarshal identifier: %v", err)
	}
	if bad.Valid {
		t.Fatalf("expected corrupted identifier to be invalid: %+v", bad)
	}
}

func TestHandleErrorMapsStorageUnavailable(t *testing.T) {
	statusErr := handleError(engine.StorageUnavailableError{Op: "transition", Err: errors.New("database is locked")})
	if statusErr.GetStatus() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", statusErr.GetStatus())
	}
	apiErr, ok := statusErr.(*apiError)
	if !ok {
		t.Fatalf("unexpected error type %T", statusErr)
	}
	if apiErr.Body.Code != "storage_unavailable" {
		t.Fatalf("expected storage_unavailable, got %s", apiErr.Body.Code)
	}
}

func TestDevLoginDisabledByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "dev",
		"role":     "clerk",
	}, nil)
	if res.StatusCode == http.StatusOK {
		t.Fatal("dev login should not be registered unless enabled")
	}
}
