package handler

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/fortuna-lending/loan-engine/internal/domain"
	"github.com/fortuna-lending/loan-engine/internal/middleware"
	"github.com/fortuna-lending/loan-engine/internal/websocket"
)

// NotificationHandler serves the durable notification feed backing the
// live channel: history for subscribers who were offline when an event
// fired.
type NotificationHandler struct {
	notifications domain.NotificationRepository
	notifier      *websocket.Notifier
}

func NewNotificationHandler(notifications domain.NotificationRepository, notifier *websocket.Notifier) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, notifier: notifier}
}

// ListNotifications handles GET /notifications.
func (h *NotificationHandler) ListNotifications(c echo.Context) error {
	accountID := middleware.GetAccountID(c)

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	notifs, err := h.notifications.ListByAccount(c.Request().Context(), accountID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list notifications")
		return FailDomain(c, err)
	}
	return OKWithMeta(c, "notifications retrieved", notifs, map[string]any{"limit": limit, "offset": offset})
}

// UnreadCount handles GET /notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	count, err := h.notifications.CountUnread(c.Request().Context(), accountID)
	if err != nil {
		log.Error().Err(err).Msg("failed to count unread notifications")
		return FailDomain(c, err)
	}
	return OK(c, http.StatusOK, "unread count retrieved", map[string]int{"unread": count})
}

// MarkRead handles PATCH /notifications/{id}/read.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return FailValidation(c, "invalid notification id", nil)
	}
	accountID := middleware.GetAccountID(c)
	if err := h.notifications.MarkRead(c.Request().Context(), id, accountID); err != nil {
		return FailDomain(c, err)
	}
	h.notifier.PushRead(accountID, id)
	return OK(c, http.StatusOK, "notification marked read", nil)
}

// MarkAllRead handles PATCH /notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	accountID := middleware.GetAccountID(c)
	count, err := h.notifications.MarkAllRead(c.Request().Context(), accountID)
	if err != nil {
		log.Error().Err(err).Msg("failed to mark all notifications read")
		return FailDomain(c, err)
	}
	h.notifier.PushAllRead(accountID)
	return OK(c, http.StatusOK, "all notifications marked read", map[string]int64{"updated": count})
}
