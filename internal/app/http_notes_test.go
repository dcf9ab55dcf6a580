package app

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"notesync/api/internal/blob"
)

func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestNotesCRUDOverHTTP(t *testing.T) {
	env := newTestEnv()
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	// Fresh user: empty list.
	rr := doJSON(t, server, http.MethodGet, "/api/notes", session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	if list, ok := payload["notes"].([]any); !ok || len(list) != 0 {
		t.Fatalf("expected empty notes array, got %v", payload["notes"])
	}

	// Create.
	rr = doJSON(t, server, http.MethodPost, "/api/notes", session.Token,
		`{"title":"Groceries","topLevelItems":[{"type":"text","content":"milk"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeJSON(t, rr)
	noteID, _ := created["id"].(string)
	if noteID == "" {
		t.Fatal("expected created note id")
	}
	if created["title"] != "Groceries" {
		t.Errorf("expected title Groceries, got %v", created["title"])
	}

	// Get.
	rr = doJSON(t, server, http.MethodGet, "/api/notes/"+noteID, session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	// Update.
	rr = doJSON(t, server, http.MethodPut, "/api/notes/"+noteID, session.Token, `{"title":"Groceries v2"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decodeJSON(t, rr)
	if updated["title"] != "Groceries v2" {
		t.Errorf("expected updated title, got %v", updated["title"])
	}
	items, _ := updated["topLevelItems"].([]any)
	if len(items) != 1 {
		t.Errorf("absent items field must keep stored items, got %v", updated["topLevelItems"])
	}

	// Delete, then delete again.
	rr = doJSON(t, server, http.MethodDelete, "/api/notes/"+noteID, session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodDelete, "/api/notes/"+noteID, session.Token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestGetUnknownNoteReturnsNotFound(t *testing.T) {
	env := newTestEnv()
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	rr := doJSON(t, server, http.MethodGet, "/api/notes/note_missing", session.Token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["code"] != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %v", payload["code"])
	}
}

func TestCreateNoteRejectsUnknownItemTypeOverHTTP(t *testing.T) {
	env := newTestEnv()
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	rr := doJSON(t, server, http.MethodPost, "/api/notes", session.Token,
		`{"topLevelItems":[{"type":"video"}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv()
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	rr := doJSON(t, server, http.MethodGet, "/api/notes/search?q=milk", session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if _, ok := payload["results"]; !ok {
		t.Errorf("expected results field, got %v", payload)
	}
}

func TestUploadAndServeAttachment(t *testing.T) {
	env := newTestEnv()
	fsStore, err := blob.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	env.svc.blobs = fsStore
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "receipt.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("pdf bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	ref, _ := payload["ref"].(string)
	if ref == "" {
		t.Fatal("expected attachment ref")
	}
	if payload["name"] != "receipt.pdf" {
		t.Errorf("expected original name echoed, got %v", payload["name"])
	}

	// Owner can fetch the bytes back.
	rr = doJSON(t, server, http.MethodGet, "/files/"+session.UserID+"/"+ref, session.Token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "pdf bytes" {
		t.Errorf("expected file bytes, got %q", rr.Body.String())
	}

	// Another user gets Forbidden, even for a ref that exists.
	other := mustRegister(t, env, "blake")
	rr = doJSON(t, server, http.MethodGet, "/files/"+session.UserID+"/"+ref, other.Token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cross-user fetch: expected 403, got %d", rr.Code)
	}

	// Missing object in the caller's own namespace is 404.
	rr = doJSON(t, server, http.MethodGet, "/files/"+session.UserID+"/does-not-exist.bin", session.Token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing fetch: expected 404, got %d", rr.Code)
	}
}

func TestUploadMissingFilePart(t *testing.T) {
	env := newTestEnv()
	server := newTestServer(env)
	session := mustRegister(t, env, "avery")

	rr := doJSON(t, server, http.MethodPost, "/api/upload", session.Token, `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodeJSON(t, rr); payload["code"] != "MISSING_FILE" {
		t.Errorf("expected code MISSING_FILE, got %v", payload["code"])
	}
}
