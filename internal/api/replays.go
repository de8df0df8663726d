package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/slp"
	"github.com/annel0/slp-replay/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// UploadResponse ответ POST /api/replays
type UploadResponse struct {
	Record     *storage.GameRecord `json:"record"`
	Duplicate  bool                `json:"duplicate"`
	FrameCount int                 `json:"frame_count,omitempty"`
	Errors     []string            `json:"parsing_errors,omitempty"`
}

// ListResponse
type ListResponse struct {
	Items  []storage.GameRecord `json:"items"`
	Total  int                  `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
}

// handleUpload принимает файл в multipart-поле "file" или сырым телом.
// 201: новая запись, 200: такая уже есть, 422: файл не разбирается.
func (rs *RestServer) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, rs.maxUpload)

	name, data, err := readUpload(c)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, "Файл слишком большой")
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		fail(c, http.StatusBadRequest, "Пустой файл")
		return
	}
	rs.prom.ObserveUpload(len(data))

	res, err := rs.library.Ingest(c.Request.Context(), name, data)
	if err != nil {
		if slp.IsFatal(err) {
			fail(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logging.Error("❌ ingest %s: %v", name, err)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}

	body := UploadResponse{Record: res.Record, Duplicate: res.Duplicate}
	if res.Game != nil {
		body.FrameCount = res.Game.FrameCount
		body.Errors = res.Game.ParsingErrors
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, GenericResponse{Success: true, Data: body})
}

// readUpload multipart-поле "file" или сырое тело (имя из ?name=)
func readUpload(c *gin.Context) (string, []byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return "", nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		return path.Base(fh.Filename), data, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, c.Request.Body); err != nil {
		return "", nil, err
	}
	return c.Query("name"), buf.Bytes(), nil
}

func (rs *RestServer) handleList(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		fail(c, http.StatusBadRequest, "Неверный offset")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "Неверный limit")
		return
	}
	limit = min(limit, maxPageSize)

	ctx := c.Request.Context()
	items, err := rs.library.List(ctx, offset, limit)
	if err != nil {
		rs.internal(c, err)
		return
	}
	total, err := rs.library.Count(ctx)
	if err != nil {
		rs.internal(c, err)
		return
	}
	if items == nil {
		items = []storage.GameRecord{}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: ListResponse{Items: items, Total: total, Offset: offset, Limit: limit}})
}

func (rs *RestServer) handleGet(c *gin.Context) {
	rec, err := rs.library.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: rec})
}

// handleStats отдаёт JSON статистики как есть
func (rs *RestServer) handleStats(c *gin.Context) {
	raw, err := rs.library.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.lookupFailed(c, err)
		return
	}
	if len(raw) == 0 || string(raw) == "null" {
		fail(c, http.StatusNotFound, "Статистика не вычислялась")
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// handleRaw исходный файл, если включён архив
func (rs *RestServer) handleRaw(c *gin.Context) {
	rec, r, err := rs.library.Raw(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.lookupFailed(c, err)
		return
	}
	defer r.Close()

	name := rec.Name
	if name == "" {
		name = rec.ID + ".slp"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(name)))
	c.DataFromReader(http.StatusOK, rec.Size, "application/octet-stream", r, nil)
}

func (rs *RestServer) handleDelete(c *gin.Context) {
	id := c.Param("id")
	if err := rs.library.Delete(c.Request.Context(), id); err != nil {
		rs.lookupFailed(c, err)
		return
	}
	logging.Info("🗑️ Replay %s deleted by %s", id, c.GetString(ctxSubject))
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Запись удалена"})
}

func (rs *RestServer) lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "Запись не найдена")
		return
	}
	rs.internal(c, err)
}

func (rs *RestServer) internal(c *gin.Context, err error) {
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
