package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"photodeck/pkg/build"
	"photodeck/pkg/metrics"
	"photodeck/pkg/session"
	"photodeck/pkg/staging"
)

// uploadField is the multipart form field carrying picked files.
const uploadField = "images"

// Handlers exposes the staging and build pipeline over HTTP.
type Handlers struct {
	sessions *session.Manager
	ingestor *staging.Ingestor
	previews *staging.PreviewRegistry
	reg      *metrics.Registry
}

// NewHandlers constructs Handlers over the shared components.
func NewHandlers(sessions *session.Manager, ingestor *staging.Ingestor, previews *staging.PreviewRegistry, reg *metrics.Registry) *Handlers {
	return &Handlers{sessions: sessions, ingestor: ingestor, previews: previews, reg: reg}
}

// Register mounts all routes on the echo instance.
func (h *Handlers) Register(e *echo.Echo) {
	g := e.Group("/api/v1")
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:sid", h.GetSession)
	g.DELETE("/sessions/:sid", h.DeleteSession)
	g.POST("/sessions/:sid/images", h.UploadImages)
	g.DELETE("/sessions/:sid/images/:index", h.RemoveImage)
	g.DELETE("/sessions/:sid/images", h.ClearImages)
	g.POST("/sessions/:sid/reorder", h.Reorder)
	g.POST("/sessions/:sid/build", h.StartBuild)
	g.GET("/sessions/:sid/build", h.BuildStatus)
	g.GET("/sessions/:sid/artifact", h.DownloadArtifact)
	g.GET("/previews/:token", h.Preview)
}

type imageInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MediaType  string `json:"mediaType"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"previewUrl"`
}

type sessionResponse struct {
	ID     string       `json:"id"`
	Images []imageInfo  `json:"images"`
	Build  build.Status `json:"build"`
}

type uploadResponse struct {
	Added  []imageInfo `json:"added"`
	Notice string      `json:"notice,omitempty"`
}

type reorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func imageInfos(images []*staging.StagedImage) []imageInfo {
	out := make([]imageInfo, 0, len(images))
	for _, img := range images {
		out = append(out, imageInfo{
			ID:         img.ID,
			Name:       img.Name,
			MediaType:  img.MediaType,
			Size:       img.Size,
			PreviewURL: "/api/v1/previews/" + img.Preview().Token(),
		})
	}
	return out
}

// CreateSession handles POST /api/v1/sessions
func (h *Handlers) CreateSession(c echo.Context) error {
	sess := h.sessions.Create(c.Request().Context())
	return c.JSON(http.StatusCreated, map[string]string{"id": sess.ID})
}

// GetSession handles GET /api/v1/sessions/:sid
func (h *Handlers) GetSession(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{
		ID:     sess.ID,
		Images: imageInfos(sess.Store.Snapshot()),
		Build:  sess.Orchestrator.Status(),
	})
}

// DeleteSession handles DELETE /api/v1/sessions/:sid
func (h *Handlers) DeleteSession(c echo.Context) error {
	sess, err := h.mutableSession(c)
	if err != nil {
		return err
	}
	if err := h.sessions.Delete(sess.ID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// UploadImages handles POST /api/v1/sessions/:sid/images
func (h *Handlers) UploadImages(c echo.Context) error {
	sess, err := h.mutableSession(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form expected")
	}
	files := form.File[uploadField]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("no files in field %q", uploadField))
	}

	batch := make([]staging.Candidate, 0, len(files))
	for _, fh := range files {
		batch = append(batch, candidate(fh))
	}

	result := h.ingestor.Ingest(sess.Store, batch)
	h.reg.Inc(c.Request().Context(), metrics.ImagesStagedTotal, nil, int64(len(result.Admitted)))
	if result.Dropped > 0 {
		h.reg.Inc(c.Request().Context(), metrics.ImagesRejectedTotal, nil, int64(result.Dropped))
	}

	return c.JSON(http.StatusOK, uploadResponse{
		Added:  imageInfos(result.Admitted),
		Notice: result.Notice,
	})
}

func candidate(fh *multipart.FileHeader) staging.Candidate {
	modTime := time.Now()
	if t, err := http.ParseTime(fh.Header.Get("Last-Modified")); err == nil {
		modTime = t
	}
	return staging.Candidate{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Size:      fh.Size,
		ModTime:   modTime,
		Open:      func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// RemoveImage handles DELETE /api/v1/sessions/:sid/images/:index
func (h *Handlers) RemoveImage(c echo.Context) error {
	sess, err := h.mutableSession(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be an integer")
	}
	if err := sess.Store.Remove(index); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearImages handles DELETE /api/v1/sessions/:sid/images
func (h *Handlers) ClearImages(c echo.Context) error {
	sess, err := h.mutableSession(c)
	if err != nil {
		return err
	}
	sess.Store.Clear()
	return c.NoContent(http.StatusNoContent)
}

// Reorder handles POST /api/v1/sessions/:sid/reorder
func (h *Handlers) Reorder(c echo.Context) error {
	sess, err := h.mutableSession(c)
	if err != nil {
		return err
	}
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reorder request")
	}
	sess.Store.Reorder(req.From, req.To)
	return c.JSON(http.StatusOK, imageInfos(sess.Store.Snapshot()))
}

// StartBuild handles POST /api/v1/sessions/:sid/build
func (h *Handlers) StartBuild(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	var opts build.Options
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid build request")
	}
	if err := opts.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch err := sess.Orchestrator.Start(opts); {
	case errors.Is(err, build.ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, build.ErrNoImages):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(http.StatusAccepted, sess.Orchestrator.Status())
}

// BuildStatus handles GET /api/v1/sessions/:sid/build
func (h *Handlers) BuildStatus(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Orchestrator.Status())
}

// DownloadArtifact handles GET /api/v1/sessions/:sid/artifact
func (h *Handlers) DownloadArtifact(c echo.Context) error {
	sess, err := h.session(c)
	if err != nil {
		return err
	}
	artifact, err := sess.Orchestrator.TakeArtifact()
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	h.reg.Inc(c.Request().Context(), metrics.ArtifactsDownloaded, nil, 1)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", artifact.Name))
	return c.Blob(http.StatusOK, artifact.ContentType, artifact.Data)
}

// Preview handles GET /api/v1/previews/:token
func (h *Handlers) Preview(c echo.Context) error {
	data, mediaType, ok := h.previews.Resolve(c.Param("token"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "preview not found")
	}
	return c.Blob(http.StatusOK, mediaType, data)
}

// session resolves the :sid route param.
func (h *Handlers) session(c echo.Context) (*session.Session, error) {
	sess, ok := h.sessions.Get(c.Param("sid"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, session.ErrNotFound.Error())
	}
	return sess, nil
}

// mutableSession additionally rejects store mutations while a build is in
// flight, so the in-progress order cannot change under the orchestrator.
func (h *Handlers) mutableSession(c echo.Context) (*session.Session, error) {
	sess, err := h.session(c)
	if err != nil {
		return nil, err
	}
	if sess.Orchestrator.Busy() {
		return nil, echo.NewHTTPError(http.StatusConflict, build.ErrBusy.Error())
	}
	return sess, nil
}
