package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
)

// Handlers bundles every resource handler RegisterRoutes wires up.
type Handlers struct {
	Loan         *LoanHandler
	Payment      *PaymentHandler
	Notification *NotificationHandler
	Admin        *AdminHandler
	Credit       *CreditHandler
	Image        *ImageHandler
	WebSocket    *WebSocketHandler
}

// RegisterRoutes wires every resource route under /api/v1, grouped by
// resource with per-group auth/role middleware, plus the /ws upgrade at
// the root.
func RegisterRoutes(e *echo.Echo, auth *middleware.AuthMiddleware, rateLimit echo.MiddlewareFunc, h *Handlers) {
	api := e.Group("/api/v1")

	e.GET("/ws", h.WebSocket.HandleWS)

	loans := api.Group("/loans")
	loans.Use(auth.Authenticate(), rateLimit)
	loans.POST("", h.Loan.CreateLoan, middleware.RequireRole(domain.RoleBorrower))
	loans.GET("", h.Loan.ListLoans)
	loans.GET("/:id", h.Loan.GetLoan)
	loans.GET("/:id/history", h.Loan.GetLoanHistory)
	loans.GET("/:id/schedule", h.Loan.GetLoanSchedule)
	loans.GET("/:id/payments", h.Loan.GetLoanPayments)
	loans.GET("/:id/disbursement", h.Loan.GetLoanDisbursement)
	loans.POST("/:id/repay", h.Loan.Repay, middleware.RequireRole(domain.RoleBorrower))

	payments := api.Group("/payments")
	payments.Use(auth.Authenticate(), rateLimit)
	payments.POST("/manual", h.Payment.SubmitManualProof, middleware.RequireRole(domain.RoleBorrower))
	payments.POST("/manual-with-receipt", h.Payment.SubmitManualProof, middleware.RequireRole(domain.RoleBorrower))
	payments.GET("", h.Payment.ListPayments)

	notifications := api.Group("/notifications")
	notifications.Use(auth.Authenticate())
	notifications.GET("", h.Notification.ListNotifications)
	notifications.GET("/unread-count", h.Notification.UnreadCount)
	notifications.PATCH("/:id/read", h.Notification.MarkRead)
	notifications.PATCH("/read-all", h.Notification.MarkAllRead)

	creditGroup := api.Group("/credit")
	creditGroup.Use(auth.Authenticate())
	creditGroup.GET("/report", h.Credit.GetReport)
	creditGroup.POST("/check", h.Credit.CheckCredit)

	images := api.Group("/images")
	images.Use(auth.Authenticate(), rateLimit)
	images.POST("/manual-proof", h.Image.UploadManualProof, middleware.RequireRole(domain.RoleBorrower))

	admin := api.Group("/admin")
	admin.Use(auth.Authenticate(), middleware.RequireRole(domain.RoleOperator), rateLimit)
	admin.POST("/loans/:id/review", h.Admin.ReviewLoan)
	admin.POST("/loans/:id/approve", h.Admin.ApproveLoan)
	admin.POST("/loans/:id/reject", h.Admin.RejectLoan)
	admin.POST("/loans/:id/disburse", h.Admin.DisburseLoan)
	admin.POST("/loans/:id/default", h.Admin.DefaultLoan)
	admin.POST("/payments/:id/verify", h.Admin.VerifyPayment)
	admin.POST("/payments/:id/refund", h.Admin.RefundFull)
	admin.POST("/payments/:id/refund-overpayment", h.Admin.RefundOverpayment)
}
