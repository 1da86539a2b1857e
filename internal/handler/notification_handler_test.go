package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortuna-lending/loan-engine/internal/domain"
)

func seedNotifications(t *testing.T, env *handlerEnv, accountID uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		require.NoError(t, env.Notifications.Create(context.Background(), &domain.Notification{
			ID: id, AccountID: accountID, Type: "loan_approved",
			Title: "Loan approved", Body: "Your loan was approved",
			Status: domain.NotificationSent,
		}))
		ids = append(ids, id)
	}
	return ids
}

func TestNotificationHandler_UnreadCount(t *testing.T) {
	e := echo.New()
	env := newHandlerEnv()
	h := NewNotificationHandler(env.Notifications, env.Notifier)
	accountID := uuid.New()
	seedNotifications(t, env, accountID, 3)

	c, rec := newRequestContext(e, http.MethodGet, "/api/v1/notifications/unread-count", "", accountID, domain.RoleBorrower)
	require.NoError(t, h.UnreadCount(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data["unread"])
}

func TestNotificationHandler_MarkRead(t *testing.T) {
	e := echo.New()
	env := newHandlerEnv()
	h := NewNotificationHandler(env.Notifications, env.Notifier)
	accountID := uuid.New()
	ids := seedNotifications(t, env, accountID, 2)

	c, rec := newRequestContext(e, http.MethodPatch, "/api/v1/notifications/"+ids[0].String()+"/read", "", accountID, domain.RoleBorrower)
	c.SetParamNames("id")
	c.SetParamValues(ids[0].String())
	require.NoError(t, h.MarkRead(c))
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := env.Notifications.CountUnread(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNotificationHandler_MarkRead_OtherAccountsNotificationNotFound(t *testing.T) {
	e := echo.New()
	env := newHandlerEnv()
	h := NewNotificationHandler(env.Notifications, env.Notifier)
	ids := seedNotifications(t, env, uuid.New(), 1)

	c, rec := newRequestContext(e, http.MethodPatch, "/api/v1/notifications/"+ids[0].String()+"/read", "", uuid.New(), domain.RoleBorrower)
	c.SetParamNames("id")
	c.SetParamValues(ids[0].String())
	require.NoError(t, h.MarkRead(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationHandler_MarkAllRead(t *testing.T) {
	e := echo.New()
	env := newHandlerEnv()
	h := NewNotificationHandler(env.Notifications, env.Notifier)
	accountID := uuid.New()
	seedNotifications(t, env, accountID, 4)

	c, rec := newRequestContext(e, http.MethodPatch, "/api/v1/notifications/read-all", "", accountID, domain.RoleBorrower)
	require.NoError(t, h.MarkAllRead(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(4), resp.Data["updated"])

	count, err := env.Notifications.CountUnread(context.Background(), accountID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
