/**
 * @description
 * HTTP handlers for the notification history endpoints. Notifications are
 * created by the lifecycle engine; this surface only lists them and manages
 * their read flags.
 */

package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
	"github.com/dir-sai/scale-r-pms-sub000/internal/store"
)

type notificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Count         int                   `json:"count"`
}

type unreadCountResponse struct {
	Unread int64 `json:"unread"`
}

type markAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// ListNotificationsHandler returns notification history, newest first.
func (h *PaymentHandlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.NotificationListOptions{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if opts.Limit < 1 || opts.Limit > 200 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_id")); raw != "" {
		paymentID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid payment_id filter")
			return
		}
		opts.PaymentID = &paymentID
	}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("unread_only")), "true") {
		opts.UnreadOnly = true
	}

	items, err := h.service.ListNotifications(r.Context(), opts)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_notifications err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if items == nil {
		items = []domain.Notification{}
	}
	h.writeJSON(w, http.StatusOK, notificationListResponse{Notifications: items, Count: len(items)})
}

// MarkNotificationReadHandler flips one notification's read flag. Marking an
// already-read notification succeeds without effect.
func (h *PaymentHandlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotificationNotFound) {
			h.writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		log.Printf("level=error component=api endpoint=mark_notification_read notification_id=%s err=%v", id, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllNotificationsReadHandler marks every unread notification read,
// optionally scoped to one payment.
func (h *PaymentHandlers) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	var paymentID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid payment_id filter")
			return
		}
		paymentID = &id
	}

	updated, err := h.service.MarkAllNotificationsRead(r.Context(), paymentID)
	if err != nil {
		log.Printf("level=error component=api endpoint=mark_all_notifications_read err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, markAllReadResponse{Updated: updated})
}

// UnreadNotificationCountHandler returns the unread badge count.
func (h *PaymentHandlers) UnreadNotificationCountHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountUnreadNotifications(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=unread_notification_count err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, unreadCountResponse{Unread: count})
}
