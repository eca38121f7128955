package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"photodeck/pkg/api"
	"photodeck/pkg/build"
	"photodeck/pkg/clients/convert"
	"photodeck/pkg/metrics"
	"photodeck/pkg/session"
	"photodeck/pkg/staging"
	"photodeck/pkg/transcode"
)

const testBound = 5

func newAPI(t *testing.T, converter http.Handler) *echo.Echo {
	t.Helper()
	server := httptest.NewServer(converter)
	t.Cleanup(server.Close)

	client, err := convert.NewClient(server.URL)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	previews := staging.NewPreviewRegistry()
	ingestor := staging.NewIngestor(testBound, previews)
	tr := &transcode.Transcoder{MaxDimension: 1920, Quality: 85}

	sessions := session.NewManager(time.Minute, func() (*staging.Store, *build.Orchestrator) {
		store := staging.NewStore(testBound)
		return store, build.NewOrchestrator(store, tr, client, reg)
	}, reg)
	t.Cleanup(sessions.Close)

	e := echo.New()
	api.NewHandlers(sessions, ingestor, previews, reg).Register(e)
	return e
}

func deckConverter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
		w.Write([]byte("deck bytes"))
	})
}

func do(e *echo.Echo, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doJSON(e *echo.Echo, method, path string, payload any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if payload != nil {
		json.NewEncoder(&buf).Encode(payload)
	}
	return do(e, method, path, &buf, echo.MIMEApplicationJSON)
}

func createSession(t *testing.T, e *echo.Echo) string {
	t.Helper()
	rec := doJSON(e, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["id"])
	return body["id"]
}

type uploadFile struct {
	name      string
	mediaType string
	data      []byte
}

func multipartBody(t *testing.T, files []uploadFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, f.name))
		header.Set("Content-Type", f.mediaType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func pngFile(t *testing.T, name string) uploadFile {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return uploadFile{name: name, mediaType: "image/png", data: buf.Bytes()}
}

func upload(t *testing.T, e *echo.Echo, sid string, files []uploadFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files)
	return do(e, http.MethodPost, "/api/v1/sessions/"+sid+"/images", body, contentType)
}

func buildStatus(t *testing.T, e *echo.Echo, sid string) build.Status {
	t.Helper()
	rec := do(e, http.MethodGet, "/api/v1/sessions/"+sid+"/build", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status build.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func waitForBuild(t *testing.T, e *echo.Echo, sid string, want build.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := do(e, http.MethodGet, "/api/v1/sessions/"+sid+"/build", nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		var status build.Status
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStageReorderBuildDownloadFlow(t *testing.T) {
	e := newAPI(t, deckConverter())
	sid := createSession(t, e)

	rec := upload(t, e, sid, []uploadFile{pngFile(t, "first.png"), pngFile(t, "second.png")})
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded struct {
		Added []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			PreviewURL string `json:"previewUrl"`
		} `json:"added"`
		Notice string `json:"notice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.Len(t, uploaded.Added, 2)
	require.Empty(t, uploaded.Notice)

	// Previews are resolvable while staged.
	preview := do(e, http.MethodGet, uploaded.Added[0].PreviewURL, nil, "")
	require.Equal(t, http.StatusOK, preview.Code)
	require.Equal(t, "image/png", preview.Header().Get(echo.HeaderContentType))

	// Move the second image in front of the first.
	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/reorder", map[string]int{"from": 1, "to": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	var order []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, "second.png", order[0].Name)
	require.Equal(t, "first.png", order[1].Name)

	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{
		"aspectRatio": "16:9",
		"layout":      "cover",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	waitForBuild(t, e, sid, build.StateCompleted)
	require.Equal(t, "slides.pptx", buildStatus(t, e, sid).Artifact)

	download := do(e, http.MethodGet, "/api/v1/sessions/"+sid+"/artifact", nil, "")
	require.Equal(t, http.StatusOK, download.Code)
	require.Contains(t, download.Header().Get(echo.HeaderContentDisposition), "slides.pptx")
	require.Equal(t, "deck bytes", download.Body.String())

	// The artifact reference is released after one download.
	download = do(e, http.MethodGet, "/api/v1/sessions/"+sid+"/artifact", nil, "")
	require.Equal(t, http.StatusNotFound, download.Code)

	// Staged images survive the whole build for retries.
	state := do(e, http.MethodGet, "/api/v1/sessions/"+sid, nil, "")
	require.Equal(t, http.StatusOK, state.Code)
	require.Contains(t, state.Body.String(), "first.png")
}

func TestUploadFiltersAndCapacityNotice(t *testing.T) {
	e := newAPI(t, deckConverter())
	sid := createSession(t, e)

	files := []uploadFile{
		{name: "notes.txt", mediaType: "text/plain", data: []byte("not an image")},
	}
	for i := 0; i < testBound+1; i++ {
		files = append(files, pngFile(t, fmt.Sprintf("p%d.png", i)))
	}

	rec := upload(t, e, sid, files)
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded struct {
		Added  []struct{ Name string } `json:"added"`
		Notice string                  `json:"notice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	require.Len(t, uploaded.Added, testBound)
	require.Contains(t, uploaded.Notice, fmt.Sprintf("%d", testBound))
}

func TestMutationsRejectedWhileBuildInFlight(t *testing.T) {
	gate := make(chan struct{})
	converter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("archive"))
	})
	e := newAPI(t, converter)
	sid := createSession(t, e)

	rec := upload(t, e, sid, []uploadFile{pngFile(t, "a.png"), pngFile(t, "b.png")})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{"splitEvery": 2})
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForBuild(t, e, sid, build.StateRequesting)

	require.Equal(t, http.StatusConflict, doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/reorder", map[string]int{"from": 0, "to": 1}).Code)
	require.Equal(t, http.StatusConflict, do(e, http.MethodDelete, "/api/v1/sessions/"+sid+"/images/0", nil, "").Code)
	require.Equal(t, http.StatusConflict, do(e, http.MethodDelete, "/api/v1/sessions/"+sid+"/images", nil, "").Code)
	require.Equal(t, http.StatusConflict, upload(t, e, sid, []uploadFile{pngFile(t, "c.png")}).Code)
	require.Equal(t, http.StatusConflict, doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{}).Code)

	close(gate)
	waitForBuild(t, e, sid, build.StateCompleted)

	// Archive content type selects the archive filename.
	require.Equal(t, "slides.zip", buildStatus(t, e, sid).Artifact)

	// Mutations work again once the build has settled.
	require.Equal(t, http.StatusNoContent, do(e, http.MethodDelete, "/api/v1/sessions/"+sid+"/images/0", nil, "").Code)
}

func TestBuildValidation(t *testing.T) {
	e := newAPI(t, deckConverter())
	sid := createSession(t, e)

	// Nothing staged yet.
	rec := doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	upload(t, e, sid, []uploadFile{pngFile(t, "a.png")})

	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{"aspectRatio": "21:9"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/v1/sessions/"+sid+"/build", map[string]any{"layout": "stretch"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	e := newAPI(t, deckConverter())

	require.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/sessions/missing", nil, "").Code)
	require.Equal(t, http.StatusNotFound, doJSON(e, http.MethodPost, "/api/v1/sessions/missing/build", map[string]any{}).Code)
	require.Equal(t, http.StatusNotFound, do(e, http.MethodDelete, "/api/v1/sessions/missing", nil, "").Code)
}

func TestDeleteSessionReleasesPreviews(t *testing.T) {
	e := newAPI(t, deckConverter())
	sid := createSession(t, e)

	rec := upload(t, e, sid, []uploadFile{pngFile(t, "a.png")})
	require.Equal(t, http.StatusOK, rec.Code)
	var uploaded struct {
		Added []struct {
			PreviewURL string `json:"previewUrl"`
		} `json:"added"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploaded))
	previewURL := uploaded.Added[0].PreviewURL

	require.Equal(t, http.StatusNoContent, do(e, http.MethodDelete, "/api/v1/sessions/"+sid, nil, "").Code)
	require.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/sessions/"+sid, nil, "").Code)
	require.Equal(t, http.StatusNotFound, do(e, http.MethodGet, previewURL, nil, "").Code)
}

func TestRemoveInvalidIndex(t *testing.T) {
	e := newAPI(t, deckConverter())
	sid := createSession(t, e)
	upload(t, e, sid, []uploadFile{pngFile(t, "a.png")})

	require.Equal(t, http.StatusNotFound, do(e, http.MethodDelete, "/api/v1/sessions/"+sid+"/images/9", nil, "").Code)
	require.Equal(t, http.StatusBadRequest, do(e, http.MethodDelete, "/api/v1/sessions/"+sid+"/images/nope", nil, "").Code)

	if !strings.Contains(do(e, http.MethodGet, "/api/v1/sessions/"+sid, nil, "").Body.String(), "a.png") {
		t.Fatal("staged image should survive invalid removals")
	}
}
