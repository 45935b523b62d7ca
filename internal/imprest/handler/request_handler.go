package handler

import (
	"fmt"
	"net/url"

	"github.com/bitfantasy/imprest/internal/imprest/service"
	"github.com/gin-gonic/gin"
)

// RequestHandler 备用金申请处理器
type RequestHandler struct {
	svc    *service.RequestService
	export *service.ExportService
}

func NewRequestHandler(svc *service.RequestService, export *service.ExportService) *RequestHandler {
	return &RequestHandler{svc: svc, export: export}
}

// bindOptional 审批类接口的body可以为空（仅备注可选）
func bindOptional(c *gin.Context, obj interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}

// ListRequests 申请单列表
// GET /imprests
func (h *RequestHandler) ListRequests(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":       c.Query("status"),
		"department":   c.Query("department"),
		"requester_id": c.Query("requester_id"),
		"payment_type": c.Query("payment_type"),
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取申请单列表失败: "+err.Error())
		return
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}

// GetRequest 申请单详情
// GET /imprests/:id
func (h *RequestHandler) GetRequest(c *gin.Context) {
	id := c.Param("id")
	req, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, req)
}

// CreateRequest 创建申请单
// POST /imprests
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req service.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.Create(c.Request.Context(), GetActor(c), &req)
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, imprest)
}

// ApproveByHod HOD审批
// POST /imprests/:id/approve-hod
func (h *RequestHandler) ApproveByHod(c *gin.Context) {
	var req service.CommentRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.ApproveByHod(c.Request.Context(), GetActor(c), c.Param("id"), req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// ApproveByAccountant 会计审批
// POST /imprests/:id/approve-accountant
func (h *RequestHandler) ApproveByAccountant(c *gin.Context) {
	var req service.CommentRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.ApproveByAccountant(c.Request.Context(), GetActor(c), c.Param("id"), req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// RejectRequest 驳回申请
// POST /imprests/:id/reject
func (h *RequestHandler) RejectRequest(c *gin.Context) {
	var req service.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.Reject(c.Request.Context(), GetActor(c), c.Param("id"), req.Reason)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// RequestRevision 退回修改
// POST /imprests/:id/request-revision
func (h *RequestHandler) RequestRevision(c *gin.Context) {
	var req service.CommentRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.RequestRevision(c.Request.Context(), GetActor(c), c.Param("id"), req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// Resubmit 重新提交
// POST /imprests/:id/resubmit
func (h *RequestHandler) Resubmit(c *gin.Context) {
	imprest, err := h.svc.Resubmit(c.Request.Context(), GetActor(c), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// Disburse 记录放款
// POST /imprests/:id/disburse
func (h *RequestHandler) Disburse(c *gin.Context) {
	var req service.DisburseRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.RecordDisbursement(c.Request.Context(), GetActor(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// Acknowledge 确认收款或报告未收到
// POST /imprests/:id/acknowledge
func (h *RequestHandler) Acknowledge(c *gin.Context) {
	var req service.AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.AcknowledgeReceipt(c.Request.Context(), GetActor(c), c.Param("id"), *req.Received, req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// ResolveDispute 处理争议
// POST /imprests/:id/resolve-dispute
func (h *RequestHandler) ResolveDispute(c *gin.Context) {
	var req service.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.ResolveDispute(c.Request.Context(), GetActor(c), c.Param("id"), req.Resolution, req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// SubmitAccounting 提交核销
// POST /imprests/:id/accounting
func (h *RequestHandler) SubmitAccounting(c *gin.Context) {
	var req service.AccountingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.SubmitAccounting(c.Request.Context(), GetActor(c), c.Param("id"), &req)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// RequestAccountingRevision 核销退回
// POST /imprests/:id/accounting/request-revision
func (h *RequestHandler) RequestAccountingRevision(c *gin.Context) {
	var req service.CommentRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.RequestAccountingRevision(c.Request.Context(), GetActor(c), c.Param("id"), req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// ApproveAccounting 核销通过
// POST /imprests/:id/accounting/approve
func (h *RequestHandler) ApproveAccounting(c *gin.Context) {
	var req service.CommentRequest
	if err := bindOptional(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	imprest, err := h.svc.ApproveAccounting(c.Request.Context(), GetActor(c), c.Param("id"), req.Comments)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, imprest)
}

// SweepOverdue 手动触发逾期扫描（定时任务同款逻辑）
// POST /imprests/sweep-overdue
func (h *RequestHandler) SweepOverdue(c *gin.Context) {
	swept, err := h.svc.RunOverdueSweep(c.Request.Context())
	if err != nil {
		InternalError(c, "逾期扫描失败: "+err.Error())
		return
	}
	Success(c, gin.H{"swept": swept})
}

// ExportRequests 导出台账
// GET /imprests/export
func (h *RequestHandler) ExportRequests(c *gin.Context) {
	filters := map[string]string{
		"status":       c.Query("status"),
		"department":   c.Query("department"),
		"requester_id": c.Query("requester_id"),
		"payment_type": c.Query("payment_type"),
	}

	f, filename, err := h.export.ExportRegister(c.Request.Context(), filters)
	if err != nil {
		InternalError(c, "导出失败: "+err.Error())
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, url.PathEscape(filename)))
	if err := f.Write(c.Writer); err != nil {
		// headers already sent; nothing useful to return
		_ = err
	}
}
