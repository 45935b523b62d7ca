package handler

import (
	"strconv"

	"github.com/bitfantasy/imprest/internal/imprest/lifecycle"
	"github.com/bitfantasy/imprest/internal/imprest/service"
	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
)

// Handlers 处理器集合
type Handlers struct {
	Request *RequestHandler
	Upload  *UploadHandler
	User    *UserHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svcs *service.Services, userSvc UserLister, minioClient *minio.Client, bucketName, publicBaseURL string) *Handlers {
	return &Handlers{
		Request: NewRequestHandler(svcs.Request, svcs.Export),
		Upload:  NewUploadHandler(minioClient, bucketName, publicBaseURL),
		User:    NewUserHandler(userSvc),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// RespondError 按生命周期错误类别映射HTTP状态
func RespondError(c *gin.Context, err error) {
	switch lifecycle.KindOf(err) {
	case lifecycle.KindNotFound:
		NotFound(c, err.Error())
	case lifecycle.KindUnauthorized:
		Forbidden(c, err.Error())
	case lifecycle.KindValidationFailed:
		BadRequest(c, err.Error())
	case lifecycle.KindPreconditionFailed:
		Conflict(c, err.Error())
	case lifecycle.KindConflict:
		Error(c, 40901, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

func GetRoles(c *gin.Context) []string {
	roles, _ := c.Get("roles")
	if rs, ok := roles.([]string); ok {
		return rs
	}
	return nil
}

// GetActor 从JWT中间件写入的上下文组装操作者身份
func GetActor(c *gin.Context) lifecycle.Actor {
	return lifecycle.Actor{
		ID:    GetUserID(c),
		Roles: GetRoles(c),
	}
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
