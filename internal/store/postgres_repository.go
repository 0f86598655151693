/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payments, recurring schedules, refunds and notifications.
 *
 * @dependencies
 * - context, encoding/json, fmt, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dir-sai/scale-r-pms-sub000/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `
    id, channel, reference, amount, currency, description, status,
    details, splits, customer_name, customer_email, customer_phone,
    payload_hash, gateway_ref, failure_reason, refunded_amount,
    retries_used, max_retries, next_retry_at, expires_at, created_at, updated_at`

// channelDetails marshals whichever channel payload is populated on the record.
func channelDetails(record *domain.PaymentRecord) (interface{}, error) {
	switch record.Channel {
	case domain.ChannelMobileMoney:
		return json.Marshal(record.MobileMoney)
	case domain.ChannelBankTransfer:
		return json.Marshal(record.BankTransfer)
	case domain.ChannelCard:
		return json.Marshal(record.Card)
	case domain.ChannelQRCode:
		return json.Marshal(record.QRCode)
	case domain.ChannelUSSD:
		return json.Marshal(record.USSD)
	default:
		return nil, fmt.Errorf("unsupported channel %q", record.Channel)
	}
}

// attachDetails unmarshals the details blob into the payload matching the channel tag.
func attachDetails(record *domain.PaymentRecord, details []byte) error {
	if len(details) == 0 {
		return nil
	}
	switch record.Channel {
	case domain.ChannelMobileMoney:
		record.MobileMoney = &domain.MobileMoneyDetails{}
		return json.Unmarshal(details, record.MobileMoney)
	case domain.ChannelBankTransfer:
		record.BankTransfer = &domain.BankTransferDetails{}
		return json.Unmarshal(details, record.BankTransfer)
	case domain.ChannelCard:
		record.Card = &domain.CardDetails{}
		return json.Unmarshal(details, record.Card)
	case domain.ChannelQRCode:
		record.QRCode = &domain.QRCodeDetails{}
		return json.Unmarshal(details, record.QRCode)
	case domain.ChannelUSSD:
		record.USSD = &domain.USSDDetails{}
		return json.Unmarshal(details, record.USSD)
	default:
		return fmt.Errorf("unsupported channel %q", record.Channel)
	}
}

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var (
		record  domain.PaymentRecord
		details []byte
		splits  []byte
	)
	err := row.Scan(
		&record.ID,
		&record.Channel,
		&record.Reference,
		&record.Amount,
		&record.Currency,
		&record.Description,
		&record.Status,
		&details,
		&splits,
		&record.CustomerName,
		&record.CustomerEmail,
		&record.CustomerPhone,
		&record.PayloadHash,
		&record.GatewayRef,
		&record.FailureReason,
		&record.RefundedAmount,
		&record.RetriesUsed,
		&record.MaxRetries,
		&record.NextRetryAt,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := attachDetails(&record, details); err != nil {
		return nil, err
	}
	if len(splits) > 0 {
		if err := json.Unmarshal(splits, &record.Splits); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

const insertNotificationQuery = `
    INSERT INTO notifications (id, payment_id, kind, title, message, priority, category, read, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`

func insertNotification(ctx context.Context, tx pgx.Tx, note domain.Notification) error {
	_, err := tx.Exec(ctx, insertNotificationQuery,
		note.ID, note.PaymentID, note.Kind, note.Title, note.Message,
		note.Priority, note.Category, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// CreatePayment persists a new payment record, its recurring schedule when present,
// and the initiated notification, all in one transaction.
func (r *PostgresRepository) CreatePayment(ctx context.Context, record *domain.PaymentRecord, note domain.Notification) error {
	details, err := channelDetails(record)
	if err != nil {
		return err
	}
	var splits interface{}
	if len(record.Splits) > 0 {
		splits, err = json.Marshal(record.Splits)
		if err != nil {
			return err
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO payments (
            id, channel, reference, amount, currency, description, status,
            details, splits, customer_name, customer_email, customer_phone,
            payload_hash, refunded_amount, retries_used, max_retries, expires_at,
            created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14,$15,$16,$17,$17)`,
		record.ID, record.Channel, record.Reference, record.Amount, record.Currency,
		record.Description, record.Status, details, splits,
		record.CustomerName, record.CustomerEmail, record.CustomerPhone,
		record.PayloadHash, record.RetriesUsed, record.MaxRetries,
		record.ExpiresAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if record.Schedule != nil {
		s := record.Schedule
		_, err = tx.Exec(ctx, `
            INSERT INTO recurring_schedules (
                id, payment_id, frequency, custom_interval_days, next_payment_date,
                completed_payments, total_payments, end_date, pause_until, is_active,
                created_at, updated_at
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
			s.ID, s.PaymentID, s.Frequency, s.CustomIntervalDays, s.NextPaymentDate,
			s.CompletedPayments, s.TotalPayments, s.EndDate, s.PauseUntil, s.IsActive,
			s.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert recurring schedule: %w", err)
		}
	}

	if err := insertNotification(ctx, tx, note); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindPaymentByID retrieves a payment and its schedule, if any.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE id = $1`
	record, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if err := r.attachSchedule(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// FindLatestPaymentByReference resolves the idempotency pair to its newest record.
func (r *PostgresRepository) FindLatestPaymentByReference(ctx context.Context, channel domain.Channel, reference string) (*domain.PaymentRecord, error) {
	query := `SELECT` + paymentColumns + `
        FROM payments
        WHERE channel = $1 AND reference = $2
        ORDER BY created_at DESC, id DESC
        LIMIT 1`
	record, err := scanPayment(r.db.QueryRow(ctx, query, channel, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if err := r.attachSchedule(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *PostgresRepository) attachSchedule(ctx context.Context, record *domain.PaymentRecord) error {
	var s domain.RecurringSchedule
	err := r.db.QueryRow(ctx, `
        SELECT id, payment_id, frequency, custom_interval_days, next_payment_date,
               completed_payments, total_payments, end_date, pause_until, is_active,
               created_at, updated_at
        FROM recurring_schedules
        WHERE payment_id = $1`, record.ID).Scan(
		&s.ID, &s.PaymentID, &s.Frequency, &s.CustomIntervalDays, &s.NextPaymentDate,
		&s.CompletedPayments, &s.TotalPayments, &s.EndDate, &s.PauseUntil, &s.IsActive,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	}
	record.Schedule = &s
	return nil
}

// ListPayments returns one stable page of history plus the filtered total.
func (r *PostgresRepository) ListPayments(ctx context.Context, filters domain.PaymentFilters, page, pageSize int) ([]domain.PaymentRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	var (
		conditions []string
		args       []interface{}
	)
	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filters.From != nil {
		addCondition("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		addCondition("created_at < $%d", *filters.To)
	}
	if filters.Status != nil {
		addCondition("status = $%d", *filters.Status)
	}
	if filters.Channel != nil {
		addCondition("channel = $%d", *filters.Channel)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM payments"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT%s FROM payments%s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		paymentColumns, where, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []domain.PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *PostgresRepository) conditionalTransition(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

// transitionWithNote applies a conditional status update and records the
// transition's notification in the same transaction. Nothing commits when the
// row moved to another state concurrently.
func (r *PostgresRepository) transitionWithNote(ctx context.Context, note domain.Notification, query string, args ...interface{}) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	if err := insertNotification(ctx, tx, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkPaymentProcessing moves a pending payment into processing.
func (r *PostgresRepository) MarkPaymentProcessing(ctx context.Context, id uuid.UUID) error {
	return r.conditionalTransition(ctx,
		`UPDATE payments SET status = 'processing', updated_at = NOW() WHERE id = $1 AND status = 'pending'`, id)
}

// MarkPaymentSucceeded settles a pending/processing payment.
func (r *PostgresRepository) MarkPaymentSucceeded(ctx context.Context, id uuid.UUID, gatewayRef string, note domain.Notification) error {
	return r.transitionWithNote(ctx, note,
		`UPDATE payments
         SET status = 'succeeded', gateway_ref = NULLIF($2, ''), next_retry_at = NULL, updated_at = NOW()
         WHERE id = $1 AND status IN ('pending', 'processing')`, id, gatewayRef)
}

// MarkPaymentFailed records a settlement failure and, when retries remain, the next retry marker.
func (r *PostgresRepository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, reason string, nextRetryAt *time.Time, note domain.Notification) error {
	return r.transitionWithNote(ctx, note,
		`UPDATE payments
         SET status = 'failed', failure_reason = NULLIF($2, ''), next_retry_at = $3, updated_at = NOW()
         WHERE id = $1 AND status IN ('pending', 'processing')`, id, reason, nextRetryAt)
}

// MarkPaymentCancelled cancels a pending/processing payment.
func (r *PostgresRepository) MarkPaymentCancelled(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	return r.transitionWithNote(ctx, note,
		`UPDATE payments SET status = 'cancelled', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'processing')`, id)
}

// MarkPaymentExpired expires a payment whose settlement window elapsed.
func (r *PostgresRepository) MarkPaymentExpired(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	return r.transitionWithNote(ctx, note,
		`UPDATE payments SET status = 'expired', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'processing')`, id)
}

// ClearPaymentRetry removes the retry marker and records the retry notification
// in one transaction.
func (r *PostgresRepository) ClearPaymentRetry(ctx context.Context, id uuid.UUID, note domain.Notification) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `UPDATE payments SET next_retry_at = NULL, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if err := insertNotification(ctx, tx, note); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindRefund looks up one applied refund by its idempotency key.
func (r *PostgresRepository) FindRefund(ctx context.Context, paymentID uuid.UUID, refundID string) (*domain.Refund, error) {
	var refund domain.Refund
	err := r.db.QueryRow(ctx, `
        SELECT refund_id, payment_id, amount, created_at
        FROM refunds
        WHERE payment_id = $1 AND refund_id = $2`, paymentID, refundID).Scan(
		&refund.RefundID, &refund.PaymentID, &refund.Amount, &refund.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

// ApplyRefund records the refund row, the status move and the refund
// notification in one transaction, guarded by a row lock so concurrent
// refunds serialize.
func (r *PostgresRepository) ApplyRefund(ctx context.Context, refund *domain.Refund, newStatus domain.PaymentStatus, note domain.Notification) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var status domain.PaymentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, refund.PaymentID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrPaymentNotFound
		}
		return err
	}
	if !status.IsRefundable() {
		return ErrStaleStatus
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO refunds (refund_id, payment_id, amount, created_at)
        VALUES ($1, $2, $3, $4)`,
		refund.RefundID, refund.PaymentID, refund.Amount, refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	_, err = tx.Exec(ctx, `
        UPDATE payments
        SET refunded_amount = refunded_amount + $2, status = $3, updated_at = NOW()
        WHERE id = $1`, refund.PaymentID, refund.Amount, newStatus)
	if err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}

	if err := insertNotification(ctx, tx, note); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateRecurringSchedule persists advancement or deactivation of a schedule.
func (r *PostgresRepository) UpdateRecurringSchedule(ctx context.Context, schedule *domain.RecurringSchedule) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE recurring_schedules
        SET next_payment_date = $2, completed_payments = $3, pause_until = $4,
            is_active = $5, updated_at = NOW()
        WHERE id = $1`,
		schedule.ID, schedule.NextPaymentDate, schedule.CompletedPayments,
		schedule.PauseUntil, schedule.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// FindDueRecurringSchedules returns active, unpaused schedules that are due.
func (r *PostgresRepository) FindDueRecurringSchedules(ctx context.Context, now time.Time) ([]domain.RecurringSchedule, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, payment_id, frequency, custom_interval_days, next_payment_date,
               completed_payments, total_payments, end_date, pause_until, is_active,
               created_at, updated_at
        FROM recurring_schedules
        WHERE is_active = TRUE
          AND next_payment_date <= $1
          AND (pause_until IS NULL OR pause_until <= $1)
        ORDER BY next_payment_date`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.RecurringSchedule
	for rows.Next() {
		var s domain.RecurringSchedule
		if err := rows.Scan(
			&s.ID, &s.PaymentID, &s.Frequency, &s.CustomIntervalDays, &s.NextPaymentDate,
			&s.CompletedPayments, &s.TotalPayments, &s.EndDate, &s.PauseUntil, &s.IsActive,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// FindExpiredPayments returns open payments whose settlement window has elapsed.
func (r *PostgresRepository) FindExpiredPayments(ctx context.Context, now time.Time) ([]domain.PaymentRecord, error) {
	return r.queryPayments(ctx, `SELECT`+paymentColumns+`
        FROM payments
        WHERE status IN ('pending', 'processing')
          AND expires_at IS NOT NULL
          AND expires_at <= $1
        ORDER BY expires_at`, now)
}

// FindPaymentsDueForRetry returns failed payments whose retry marker is due.
func (r *PostgresRepository) FindPaymentsDueForRetry(ctx context.Context, now time.Time) ([]domain.PaymentRecord, error) {
	return r.queryPayments(ctx, `SELECT`+paymentColumns+`
        FROM payments
        WHERE status = 'failed'
          AND next_retry_at IS NOT NULL
          AND next_retry_at <= $1
        ORDER BY next_retry_at`, now)
}

func (r *PostgresRepository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]domain.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListNotifications returns notifications, newest first.
func (r *PostgresRepository) ListNotifications(ctx context.Context, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	limit := opts.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		conditions []string
		args       []interface{}
	)
	if opts.PaymentID != nil {
		args = append(args, *opts.PaymentID)
		conditions = append(conditions, fmt.Sprintf("payment_id = $%d", len(args)))
	}
	if opts.UnreadOnly {
		conditions = append(conditions, "read = FALSE")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
        SELECT id, payment_id, kind, title, message, priority, category, read, read_at, created_at
        FROM notifications%s
        ORDER BY created_at DESC, id DESC
        LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.PaymentID, &n.Kind, &n.Title, &n.Message,
			&n.Priority, &n.Category, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkNotificationRead flips the read flag. Re-reading an already-read
// notification is a no-op; the original read_at is preserved.
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, notificationID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, NOW()) WHERE id = $1`, notificationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks everything (optionally scoped to one payment) read.
func (r *PostgresRepository) MarkAllNotificationsRead(ctx context.Context, paymentID *uuid.UUID) (int64, error) {
	query := `UPDATE notifications SET read = TRUE, read_at = NOW() WHERE read = FALSE`
	var (
		tagRows int64
		err     error
	)
	if paymentID != nil {
		tag, execErr := r.db.Exec(ctx, query+` AND payment_id = $1`, *paymentID)
		tagRows, err = tag.RowsAffected(), execErr
	} else {
		tag, execErr := r.db.Exec(ctx, query)
		tagRows, err = tag.RowsAffected(), execErr
	}
	if err != nil {
		return 0, err
	}
	return tagRows, nil
}

// CountUnreadNotifications returns the unread badge count.
func (r *PostgresRepository) CountUnreadNotifications(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE read = FALSE`).Scan(&count)
	return count, err
}
