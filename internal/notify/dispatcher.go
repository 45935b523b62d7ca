package notify

import (
	"context"
	"time"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
	"github.com/bitfantasy/imprest/internal/imprest/lifecycle"
	"github.com/bitfantasy/imprest/internal/imprest/repository"
	"go.uber.org/zap"
)

// Dispatcher fans notification intents out to email/SMS. Dispatch is
// fire-and-forget: it runs after the transition has committed and every
// failure is logged, never propagated back to the transition's caller.
type Dispatcher struct {
	gateway *Gateway
	users   *repository.UserRepository
	logger  *zap.Logger
}

func NewDispatcher(gateway *Gateway, users *repository.UserRepository, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{gateway: gateway, users: users, logger: logger}
}

// Dispatch resolves recipients and sends every intent. A nil gateway
// (notifications unconfigured) silently drops everything.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []lifecycle.Intent) {
	if d.gateway == nil {
		return
	}
	for _, intent := range intents {
		d.dispatchOne(ctx, intent)
	}
}

// DispatchAsync 事务提交后异步派发，不阻塞调用方
func (d *Dispatcher) DispatchAsync(intents []lifecycle.Intent) {
	if d.gateway == nil || len(intents) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		d.Dispatch(ctx, intents)
	}()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, intent lifecycle.Intent) {
	recipients, err := d.resolve(ctx, intent)
	if err != nil {
		d.logger.Warn("Failed to resolve notification recipients",
			zap.String("template", string(intent.Template)),
			zap.String("role", intent.Role),
			zap.Error(err))
		return
	}
	if len(recipients) == 0 {
		d.logger.Warn("No recipients for notification",
			zap.String("template", string(intent.Template)),
			zap.String("role", intent.Role),
			zap.String("department", intent.Department))
		return
	}

	subject, body, err := Render(intent.Template, intent.Payload)
	if err != nil {
		d.logger.Error("Failed to render notification template",
			zap.String("template", string(intent.Template)),
			zap.Error(err))
		return
	}

	for _, u := range recipients {
		if u.Email != "" {
			if err := d.gateway.SendEmail(ctx, u.Email, subject, body); err != nil {
				d.logger.Warn("Email dispatch failed",
					zap.String("template", string(intent.Template)),
					zap.String("user_id", u.ID),
					zap.Error(err))
			}
		}
		// 紧急通知（如争议升级）额外发短信
		if intent.Urgent && u.Phone != "" {
			if err := d.gateway.SendSMS(ctx, u.Phone, subject); err != nil {
				d.logger.Warn("SMS dispatch failed",
					zap.String("template", string(intent.Template)),
					zap.String("user_id", u.ID),
					zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) resolve(ctx context.Context, intent lifecycle.Intent) ([]entity.User, error) {
	if intent.UserID != "" {
		u, err := d.users.FindByID(ctx, intent.UserID)
		if err != nil {
			return nil, err
		}
		return []entity.User{*u}, nil
	}
	return d.users.FindByRole(ctx, intent.Role, intent.Department)
}
