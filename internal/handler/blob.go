package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"datalake/internal/dto"
	"datalake/internal/service"
	"datalake/internal/storage"
	"datalake/utils"

	"github.com/gin-gonic/gin"
)

// HeaderContentSHA256 carries the hex sha256 of a PUT body.
const HeaderContentSHA256 = "X-Content-SHA256"

var (
	errNotFound    = errors.New("not found")
	errMissingName = errors.New("blob name required")
	errMissingHash = errors.New(HeaderContentSHA256 + " header required")
	errNoLength    = errors.New("content length required")
)

// ListBlobs GET /blob/:workspace
func (h *Handler) ListBlobs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, errors.New("invalid limit"))
			return
		}
		limit = n
	}
	derived := c.Query("derived") == "true"
	res, err := h.dl.List(c.Request.Context(), c.Param("workspace"), c.Query("cursor"), limit, derived)
	if err != nil {
		h.internalError(c, "list", err)
		return
	}
	utils.Success(c, res)
}

func writeHead(c *gin.Context, head *service.BlobHead) {
	c.Header("ETag", strconv.Quote(head.ETag))
	c.Header("Cache-Control", head.CacheControl)
	c.Header("Accept-Ranges", "bytes")
	if !head.LastModified.IsZero() {
		c.Header("Last-Modified", head.LastModified.UTC().Format(http.TimeFormat))
	}
}

// HeadBlob HEAD /blob/:workspace/*name
func (h *Handler) HeadBlob(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	head, err := h.dl.Head(c.Request.Context(), c.Param("workspace"), name)
	if err != nil {
		h.internalError(c, "head", err)
		return
	}
	if head == nil {
		c.Status(http.StatusNotFound)
		return
	}
	writeHead(c, head)
	c.Header("Content-Type", head.ContentType)
	c.Header("Content-Length", strconv.FormatInt(head.Size, 10))
	c.Status(http.StatusOK)
}

// GetBlob GET /blob/:workspace/*name
func (h *Handler) GetBlob(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	rng, err := storage.ParseRange(c.GetHeader("Range"))
	if err != nil {
		utils.Fail(c, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}
	body, err := h.dl.Get(c.Request.Context(), c.Param("workspace"), name, rng)
	if errors.Is(err, service.ErrRangeNotSatisfiable) {
		utils.Fail(c, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}
	if err != nil {
		h.internalError(c, "get", err)
		return
	}
	if body == nil {
		notFound(c)
		return
	}
	defer body.Body.Close()

	writeHead(c, &body.BlobHead)
	if rng == nil && strings.Trim(c.GetHeader("If-None-Match"), `"`) == body.ETag {
		c.Status(http.StatusNotModified)
		return
	}
	if c.Query("download") != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", utils.SanitizeHeaderFilename(name)))
	}
	status := http.StatusOK
	if body.Range != nil {
		status = http.StatusPartialContent
		c.Header("Content-Range", body.Range.ContentRange(body.Size))
	}
	c.DataFromReader(status, body.BodyLength, body.ContentType, body.Body, nil)
}

// PutBlob PUT /blob/:workspace/*name
func (h *Handler) PutBlob(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	digest := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderContentSHA256)))
	if digest == "" {
		badRequest(c, errMissingHash)
		return
	}
	if c.Request.ContentLength < 0 {
		utils.Fail(c, http.StatusLengthRequired, errNoLength)
		return
	}
	opts := service.PutOptions{
		Size:         c.Request.ContentLength,
		ContentType:  c.ContentType(),
		CacheControl: c.GetHeader("Cache-Control"),
	}
	if opts.ContentType == "" {
		opts.ContentType = utils.ContentTypeByName(name)
	}
	if v := c.GetHeader("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			opts.LastModified = t
		}
	}

	head, err := h.dl.Put(c.Request.Context(), c.Param("workspace"), name, digest, c.Request.Body, opts)
	if errors.Is(err, service.ErrSizeMismatch) || errors.Is(err, service.ErrInvalidDigest) {
		badRequest(c, err)
		return
	}
	if err != nil {
		h.internalError(c, "put", err)
		return
	}
	writeHead(c, head)
	utils.Success(c, head)
}

// CreateBlob POST /upload/:workspace/complete
func (h *Handler) CreateBlob(c *gin.Context) {
	var req dto.CreateBlobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	head, err := h.dl.Create(c.Request.Context(), c.Param("workspace"), req.Name, req.Filename)
	if errors.Is(err, service.ErrLocationConflict) {
		utils.Fail(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.internalError(c, "create", err)
		return
	}
	if head == nil {
		notFound(c)
		return
	}
	utils.Success(c, head)
}

const (
	defaultUploadExpiry = 15 * time.Minute
	maxUploadExpiry     = 7 * 24 * time.Hour
)

// SignUpload POST /upload/:workspace/signed
func (h *Handler) SignUpload(c *gin.Context) {
	expiry := defaultUploadExpiry
	if v := c.Query("expires"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			badRequest(c, errors.New("invalid expires"))
			return
		}
		expiry = time.Duration(seconds) * time.Second
		if expiry > maxUploadExpiry {
			expiry = maxUploadExpiry
		}
	}
	signed, err := h.dl.SignUpload(c.Request.Context(), c.Param("workspace"), expiry)
	if err != nil {
		h.internalError(c, "sign upload", err)
		return
	}
	utils.Success(c, signed)
}

// DeleteBlob DELETE /blob/:workspace/*name
func (h *Handler) DeleteBlob(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	if err := h.dl.Delete(c.Request.Context(), c.Param("workspace"), name); err != nil {
		h.internalError(c, "delete", err)
		return
	}
	utils.Success(c, nil)
}

// DeleteBlobs DELETE /blob/:workspace
func (h *Handler) DeleteBlobs(c *gin.Context) {
	var req dto.DeleteBlobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.dl.DeleteList(c.Request.Context(), c.Param("workspace"), req.Names); err != nil {
		h.internalError(c, "delete list", err)
		return
	}
	utils.Success(c, nil)
}
