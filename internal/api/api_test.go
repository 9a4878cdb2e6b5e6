package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filevault/internal/api"
	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/fsgraph"
	"github.com/dmitrymomot/filevault/internal/quota"
	"github.com/dmitrymomot/filevault/internal/sharing"
	"github.com/dmitrymomot/filevault/internal/store"
	"github.com/dmitrymomot/filevault/internal/trash"
	"github.com/dmitrymomot/filevault/internal/upload"
	"github.com/dmitrymomot/filevault/internal/web"
	"github.com/dmitrymomot/filevault/middlewares"
	"github.com/dmitrymomot/filevault/pkg/id"
	"github.com/dmitrymomot/filevault/pkg/storage"
)

const (
	jwtSecret     = "jwt-secret"
	webhookSecret = "webhook-secret"
	baseURL       = "https://vault.example.com"
)

type env struct {
	app    http.Handler
	st     *store.Memory
	blobs  *storage.Memory
	tenant string
	token  string
}

func newEnv(t *testing.T, uploadOpts ...upload.Option) *env {
	t.Helper()
	e := &env{st: store.NewMemory(), blobs: storage.NewMemory(), tenant: id.New()}

	bill := billing.New(e.st)
	_, err := bill.SeedPlans(context.Background())
	require.NoError(t, err)
	ledger := quota.New(e.st, bill)
	files := fsgraph.New(e.st, fsgraph.WithBlobChecker(e.blobs))

	a := api.New(api.Services{
		Billing: bill,
		Ledger:  ledger,
		Files:   files,
		Trash:   trash.New(e.st, ledger, e.blobs),
		Shares:  sharing.New(e.st, e.blobs),
		Uploads: upload.New(e.st, files, ledger, e.blobs, uploadOpts...),
	}, jwtSecret, api.WithBaseURL(baseURL+"/"), api.WithWebhookSecret(webhookSecret))

	e.app = web.New(
		web.WithMiddleware(middlewares.Recover()),
		web.WithErrorHandler(api.ErrorHandler()),
		web.WithNotFoundHandler(api.NotFound),
		web.WithHandlers(a),
	)
	e.token, err = middlewares.SignToken([]byte(jwtSecret), e.tenant, "owner@example.com", time.Hour)
	require.NoError(t, err)
	return e
}

type response struct {
	*httptest.ResponseRecorder
	body map[string]any
}

func (r response) str(path ...string) string {
	v, _ := r.get(path...).(string)
	return v
}

func (r response) get(path ...string) any {
	var cur any = r.body
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func (e *env) send(t *testing.T, req *http.Request, auth bool) response {
	t.Helper()
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.app.ServeHTTP(rec, req)

	res := response{ResponseRecorder: rec}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body))
	}
	return res
}

func (e *env) do(t *testing.T, method, path string, body any) response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req, true)
}

func (e *env) upload(t *testing.T, name string, size int, folderID string) response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if folderID != "" {
		require.NoError(t, w.WriteField("folder_id", folderID))
	}
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), size))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return e.send(t, req, true)
}

func assertFailure(t *testing.T, res response, status int, code string) {
	t.Helper()
	assert.Equal(t, status, res.Code, res.Body.String())
	assert.Equal(t, false, res.get("success"))
	assert.Equal(t, code, res.str("code"))
	assert.NotEmpty(t, res.str("error"))
}

func TestAuthentication(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.send(t, httptest.NewRequest(http.MethodGet, "/api/quota", nil), false)
	assertFailure(t, res, http.StatusUnauthorized, "unauthorized")

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("Authorization", "Bearer forged")
	assertFailure(t, e.send(t, req, false), http.StatusUnauthorized, "unauthorized")
}

func TestProvisionAccount(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.do(t, http.MethodPost, "/api/account", nil)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	assert.Equal(t, true, res.get("success"))
	assert.Equal(t, true, res.get("created"))
	assert.Equal(t, e.tenant, res.str("account", "id"))
	assert.Equal(t, "free", res.str("quota", "plan", "code"))

	res = e.do(t, http.MethodPost, "/api/account", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, false, res.get("created"))
}

func TestFirstRequestProvisions(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.do(t, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.EqualValues(t, 0, res.get("quota", "used_bytes"))
	assert.EqualValues(t, 500<<20, res.get("quota", "max_bytes"))
}

func TestUploadDownloadAndTrash(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.upload(t, "report.pdf", 1024, "")
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	fileID := res.str("file", "id")
	require.NotEmpty(t, fileID)
	assert.Equal(t, "report.pdf", res.str("file", "name"))
	assert.Equal(t, "application/pdf", res.str("file", "content_type"))
	assert.Nil(t, res.get("file", "blob_key"))

	res = e.do(t, http.MethodGet, "/api/quota", nil)
	assert.EqualValues(t, 1024, res.get("quota", "used_bytes"))

	res = e.do(t, http.MethodGet, "/api/folders", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.get("files"), 1)

	res = e.do(t, http.MethodGet, "/api/files/"+fileID+"/download", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.str("url"), "attachment")

	res = e.do(t, http.MethodGet, "/api/files/"+fileID+"/preview?redirect=1", nil)
	require.Equal(t, http.StatusFound, res.Code)
	assert.Contains(t, res.Header().Get("Location"), "inline")

	res = e.do(t, http.MethodDelete, "/api/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	assertFailure(t, e.do(t, http.MethodGet, "/api/files/"+fileID+"/download", nil), http.StatusNotFound, "not_found")

	res = e.do(t, http.MethodGet, "/api/trash", nil)
	require.Len(t, res.get("items"), 1)
	assert.EqualValues(t, 30, res.get("items").([]any)[0].(map[string]any)["days_left"])

	res = e.do(t, http.MethodPost, "/api/trash/"+fileID+"/restore", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assertFailure(t, e.do(t, http.MethodPost, "/api/trash/"+fileID+"/restore", nil), http.StatusNotFound, "not_found")

	e.do(t, http.MethodDelete, "/api/files/"+fileID, nil)
	res = e.do(t, http.MethodDelete, "/api/trash/"+fileID, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = e.do(t, http.MethodDelete, "/api/trash/"+fileID, nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = e.do(t, http.MethodGet, "/api/quota", nil)
	assert.EqualValues(t, 0, res.get("quota", "used_bytes"))
	assert.Empty(t, e.blobs.Keys())
}

func TestEmptyTrash(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	for _, name := range []string{"a.txt", "b.txt"} {
		res := e.upload(t, name, 10, "")
		require.Equal(t, http.StatusCreated, res.Code)
		e.do(t, http.MethodDelete, "/api/files/"+res.str("file", "id"), nil)
	}

	res := e.do(t, http.MethodDelete, "/api/trash", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.EqualValues(t, 2, res.get("report", "purged_files"))
	assert.EqualValues(t, 20, res.get("report", "purged_bytes"))
}

func TestFolders(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.do(t, http.MethodPost, "/api/folders", map[string]any{"name": "Docs"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	folderID := res.str("folder", "id")

	assertFailure(t, e.do(t, http.MethodPost, "/api/folders", map[string]any{"name": "Docs"}), http.StatusConflict, "duplicate_name")
	assertFailure(t, e.do(t, http.MethodPost, "/api/folders", map[string]any{"name": ""}), http.StatusUnprocessableEntity, "invalid_input")
	assertFailure(t, e.do(t, http.MethodPost, "/api/folders", map[string]any{"name": "x", "color": "red"}), http.StatusBadRequest, "bad_request")

	res = e.upload(t, "notes.txt", 5, folderID)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	fileID := res.str("file", "id")
	assert.Equal(t, folderID, res.str("file", "folder_id"))

	res = e.do(t, http.MethodGet, "/api/folders?parent="+folderID, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Docs", res.str("folder", "name"))
	assert.Len(t, res.get("files"), 1)

	assertFailure(t, e.do(t, http.MethodDelete, "/api/folders/"+folderID, nil), http.StatusConflict, "folder_not_empty")

	res = e.do(t, http.MethodPost, "/api/files/"+fileID+"/move", map[string]any{"folder_id": nil})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Nil(t, res.get("file", "folder_id"))

	res = e.do(t, http.MethodDelete, "/api/folders/"+folderID, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assertFailure(t, e.do(t, http.MethodDelete, "/api/folders/"+folderID, nil), http.StatusNotFound, "not_found")
}

func TestStarredListing(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	a := e.upload(t, "a.txt", 1, "")
	e.upload(t, "b.txt", 1, "")

	res := e.do(t, http.MethodPost, "/api/files/"+a.str("file", "id")+"/star", map[string]any{"starred": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, true, res.get("file", "is_starred"))

	assertFailure(t, e.do(t, http.MethodPost, "/api/files/"+a.str("file", "id")+"/star", map[string]any{}), http.StatusUnprocessableEntity, "invalid_input")

	res = e.do(t, http.MethodGet, "/api/folders?starred=true", nil)
	require.Len(t, res.get("files"), 1)
	assert.Equal(t, "a.txt", res.get("files").([]any)[0].(map[string]any)["name"])
}

func TestUploadLimits(t *testing.T) {
	t.Parallel()
	e := newEnv(t, upload.WithMaxSize(100))

	assertFailure(t, e.upload(t, "big.bin", 101, ""), http.StatusRequestEntityTooLarge, "file_too_large")

	req := httptest.NewRequest(http.MethodPost, "/api/files", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	assertFailure(t, e.send(t, req, true), http.StatusUnprocessableEntity, "invalid_input")

	res := e.do(t, http.MethodGet, "/api/quota/check?size=524288000", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.get("allowed"))
	res = e.do(t, http.MethodGet, "/api/quota/check?size=524288001", nil)
	assert.Equal(t, false, res.get("allowed"))
	assertFailure(t, e.do(t, http.MethodGet, "/api/quota/check?size=abc", nil), http.StatusUnprocessableEntity, "invalid_input")
}

func TestShareLinks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	fileID := e.upload(t, "photo.jpg", 10, "").str("file", "id")

	res := e.do(t, http.MethodPost, "/api/files/"+fileID+"/shares", map[string]any{"ttl_days": 7})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	token := res.str("share", "token")
	linkID := res.str("share", "id")
	assert.Equal(t, baseURL+"/s/"+token, res.str("share", "url"))
	assert.NotNil(t, res.get("share", "expires_at"))

	assertFailure(t, e.do(t, http.MethodPost, "/api/files/"+fileID+"/shares", map[string]any{"ttl_days": 0}), http.StatusUnprocessableEntity, "invalid_input")

	res = e.send(t, httptest.NewRequest(http.MethodGet, "/s/"+token, nil), false)
	require.Equal(t, http.StatusFound, res.Code)
	assert.Contains(t, res.Header().Get("Location"), "attachment")
	assert.Equal(t, "no-store", res.Header().Get("Cache-Control"))

	res = e.do(t, http.MethodGet, "/api/files/"+fileID+"/shares", nil)
	assert.Len(t, res.get("shares"), 1)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/shares/"+linkID, nil).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/shares/"+linkID, nil).Code)

	res = e.send(t, httptest.NewRequest(http.MethodGet, "/s/"+token, nil), false)
	assertFailure(t, res, http.StatusGone, "link_revoked")

	res = e.send(t, httptest.NewRequest(http.MethodGet, "/s/unknown", nil), false)
	assertFailure(t, res, http.StatusNotFound, "not_found")
}

func TestPublicFiles(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	fileID := e.upload(t, "poster.png", 10, "").str("file", "id")
	public := "/public/files/" + fileID

	assertFailure(t, e.send(t, httptest.NewRequest(http.MethodGet, public, nil), false), http.StatusNotFound, "not_found")

	res := e.do(t, http.MethodPost, "/api/files/"+fileID+"/visibility", map[string]any{"public": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, baseURL+public, res.str("public_url"))

	res = e.send(t, httptest.NewRequest(http.MethodGet, public, nil), false)
	require.Equal(t, http.StatusFound, res.Code)

	res = e.send(t, httptest.NewRequest(http.MethodGet, public+"?json=1", nil), false)
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, res.str("url"))

	e.do(t, http.MethodPost, "/api/files/"+fileID+"/visibility", map[string]any{"public": false})
	assertFailure(t, e.send(t, httptest.NewRequest(http.MethodGet, public, nil), false), http.StatusNotFound, "not_found")
}

func TestPlans(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.do(t, http.MethodGet, "/api/plans", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Len(t, res.get("plans"), len(billing.Catalogue))
	assert.Equal(t, "free", res.str("current"))
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	assertFailure(t, e.send(t, httptest.NewRequest(http.MethodGet, "/nope", nil), false), http.StatusNotFound, "not_found")
}
