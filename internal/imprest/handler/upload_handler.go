package handler

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// UploadHandler 附件/票据上传处理器，对象存储为MinIO
type UploadHandler struct {
	minioClient   *minio.Client
	bucketName    string
	publicBaseURL string
}

func NewUploadHandler(minioClient *minio.Client, bucketName, publicBaseURL string) *UploadHandler {
	return &UploadHandler{
		minioClient:   minioClient,
		bucketName:    bucketName,
		publicBaseURL: publicBaseURL,
	}
}

// UploadedFile 上传文件信息，file_name/file_url可直接填入附件或票据
type UploadedFile struct {
	FileName    string    `json:"file_name"`
	FileURL     string    `json:"file_url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Upload 处理文件上传
// POST /upload
func (h *UploadHandler) Upload(c *gin.Context) {
	if h.minioClient == nil {
		InternalError(c, "对象存储未配置")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "无法解析上传文件: "+err.Error())
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		// 也尝试获取单文件
		files = form.File["file"]
	}
	if len(files) == 0 {
		BadRequest(c, "没有上传文件")
		return
	}

	now := time.Now()
	var uploaded []UploadedFile

	for _, fileHeader := range files {
		fileID := uuid.New().String()[:32]
		ext := filepath.Ext(fileHeader.Filename)
		objectName := fmt.Sprintf("imprest/%d/%02d/%s%s", now.Year(), now.Month(), fileID, ext)
		contentType := fileHeader.Header.Get("Content-Type")

		src, err := fileHeader.Open()
		if err != nil {
			InternalError(c, "读取上传文件失败: "+err.Error())
			return
		}

		_, err = h.minioClient.PutObject(c.Request.Context(), h.bucketName, objectName, src, fileHeader.Size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		src.Close()
		if err != nil {
			InternalError(c, "上传文件失败: "+err.Error())
			return
		}

		uploaded = append(uploaded, UploadedFile{
			FileName:    fileHeader.Filename,
			FileURL:     fmt.Sprintf("%s/%s/%s", h.publicBaseURL, h.bucketName, objectName),
			Size:        fileHeader.Size,
			ContentType: contentType,
			UploadedAt:  now,
		})
	}

	Success(c, uploaded)
}
