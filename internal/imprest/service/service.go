package service

import (
	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"github.com/bitfantasy/imprest/internal/notify"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Request *RequestService
	Export  *ExportService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, rdb *redis.Client, dispatcher *notify.Dispatcher, logger *zap.Logger) *Services {
	return &Services{
		Request: NewRequestService(repos.Request, repos.User, rdb, dispatcher, logger),
		Export:  NewExportService(repos.Request),
	}
}
