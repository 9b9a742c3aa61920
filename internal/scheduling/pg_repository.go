package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dan22333/theravillage/internal/calendar"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &PgRepository{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const userColumns = `id::text, name, COALESCE(email, ''), role, COALESCE(firebase_uid, ''), created_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u    User
		id   string
		role string
	)
	err := row.Scan(&id, &u.Name, &u.Email, &role, &u.FirebaseUID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

const slotColumns = `id::text, therapist_id::text, slot_date::text, start_time::text, end_time::text, status`

func scanSlot(row pgx.Row) (*calendar.Slot, error) {
	var (
		s                       calendar.Slot
		date, start, end, state string
	)
	err := row.Scan(&s.ID, &s.TherapistID, &date, &start, &end, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	if s.Date, err = calendar.ParseDate(date); err != nil {
		return nil, err
	}
	if s.StartTime, err = calendar.ParseClock(start); err != nil {
		return nil, err
	}
	if s.EndTime, err = calendar.ParseClock(end); err != nil {
		return nil, err
	}
	s.Status = calendar.SlotStatus(state)
	return &s, nil
}

const appointmentColumns = `a.id::text, a.therapist_id::text, a.client_id::text, COALESCE(u.name, ''),
	COALESCE(a.scheduling_request_id::text, ''),
	to_char(a.start_ts, 'YYYY-MM-DD"T"HH24:MI:SS'), to_char(a.end_ts, 'YYYY-MM-DD"T"HH24:MI:SS'),
	a.status, a.recurring_rule, COALESCE(a.location_type, ''), COALESCE(a.location_address, ''),
	COALESCE(a.cancellation_reason, '')`

func scanAppointment(row pgx.Row) (*calendar.Appointment, error) {
	var (
		a                      calendar.Appointment
		start, end             string
		status, rule           string
		locationType, location string
	)
	err := row.Scan(
		&a.ID,
		&a.TherapistID,
		&a.ClientID,
		&a.ClientName,
		&a.SchedulingRequestID,
		&start,
		&end,
		&status,
		&rule,
		&locationType,
		&location,
		&a.CancellationReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if a.Start, err = calendar.ParseDateTime(start); err != nil {
		return nil, err
	}
	if a.End, err = calendar.ParseDateTime(end); err != nil {
		return nil, err
	}
	a.Status = calendar.AppointmentStatus(status)
	a.RecurringRule = calendar.RecurringRule(rule)
	if locationType != "" {
		a.Location = &calendar.Location{Type: calendar.LocationType(locationType), Address: location}
	}
	return &a, nil
}

const requestColumns = `r.id::text, r.client_id::text, COALESCE(c.name, ''), r.therapist_id::text, COALESCE(t.name, ''),
	COALESCE(r.requested_slot_id::text, ''), r.requested_date::text,
	r.requested_start_time::text, r.requested_end_time::text, r.status,
	COALESCE(r.client_message, ''), COALESCE(r.therapist_response, ''),
	COALESCE(r.suggested_alternatives::text, ''), COALESCE(r.cancelled_by, ''),
	COALESCE(r.cancellation_reason, ''), r.created_at, r.responded_at`

const requestJoins = `
	LEFT JOIN users c ON c.id = r.client_id
	LEFT JOIN users t ON t.id = r.therapist_id`

func scanRequest(row pgx.Row) (*calendar.SchedulingRequest, error) {
	var (
		q                    calendar.SchedulingRequest
		date, start, end     string
		status, alternatives string
		createdAt            time.Time
		respondedAt          *time.Time
	)
	err := row.Scan(
		&q.ID,
		&q.ClientID,
		&q.ClientName,
		&q.TherapistID,
		&q.TherapistName,
		&q.RequestedSlotID,
		&date,
		&start,
		&end,
		&status,
		&q.ClientMessage,
		&q.TherapistResponse,
		&alternatives,
		&q.CancelledBy,
		&q.CancellationReason,
		&createdAt,
		&respondedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if q.RequestedDate, err = calendar.ParseDate(date); err != nil {
		return nil, err
	}
	if q.RequestedStartTime, err = calendar.ParseClock(start); err != nil {
		return nil, err
	}
	if q.RequestedEndTime, err = calendar.ParseClock(end); err != nil {
		return nil, err
	}
	if alternatives != "" {
		if err := json.Unmarshal([]byte(alternatives), &q.SuggestedAlternatives); err != nil {
			return nil, fmt.Errorf("decode suggested alternatives: %w", err)
		}
	}
	q.Status = calendar.RequestStatus(status)
	q.CreatedAt = &createdAt
	q.RespondedAt = respondedAt
	return &q, nil
}

const notificationColumns = `id::text, user_id::text, type, title, message,
	COALESCE(related_request_id::text, ''), COALESCE(related_appointment_id::text, ''), is_read, created_at`

func scanNotification(row pgx.Row) (*calendar.Notification, error) {
	var n calendar.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.RelatedRequestID,
		&n.RelatedAppointmentID,
		&n.IsRead,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return &n, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Users

func (r *PgRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserByFirebaseUID(ctx context.Context, uid string) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE firebase_uid = $1`, uid)
	return scanUser(row)
}

func (r *PgRepository) IsClientAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM therapist_assignments
			WHERE therapist_id = $1 AND client_id = $2 AND status = 'active'
		)`, therapistID, clientID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Slots

func (r *PgRepository) ListSlots(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date, status calendar.SlotStatus) ([]calendar.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM therapist_calendar_slots
		WHERE therapist_id = $1
		  AND slot_date BETWEEN $2::date AND $3::date
		  AND ($4::text = '' OR status = $4::text)
		ORDER BY slot_date, start_time`,
		therapistID, from.String(), to.String(), string(status),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListSlotsInRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) ([]calendar.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM therapist_calendar_slots
		WHERE therapist_id = $1
		  AND slot_date + start_time >= $2::timestamp
		  AND slot_date + start_time < $3::timestamp
		ORDER BY slot_date, start_time`,
		therapistID, start.String(), end.String(),
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*calendar.Slot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM therapist_calendar_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) InsertSlot(ctx context.Context, slot calendar.Slot) (*calendar.Slot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO therapist_calendar_slots (therapist_id, slot_date, start_time, end_time, status)
		VALUES ($1::uuid, $2::date, $3::time, $4::time, $5)
		RETURNING `+slotColumns,
		slot.TherapistID, slot.Date.String(), slot.StartTime.String(), slot.EndTime.String(), string(slot.Status),
	)
	created, err := scanSlot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotExists
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM therapist_calendar_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) BookRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO therapist_calendar_slots (therapist_id, slot_date, start_time, end_time, status)
		SELECT $1, g::date, g::time,
		       CASE WHEN g::time = '23:45' THEN '24:00'::time ELSE (g + interval '15 minutes')::time END,
		       'booked'
		FROM generate_series($2::timestamp, $3::timestamp - interval '15 minutes', interval '15 minutes') AS g
		ON CONFLICT (therapist_id, slot_date, start_time)
		DO UPDATE SET status = 'booked', updated_at = now()`,
		therapistID, start.String(), end.String(),
	)
	return err
}

func (r *PgRepository) ReleaseRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE therapist_calendar_slots
		SET status = 'available', updated_at = now()
		WHERE therapist_id = $1
		  AND status = 'booked'
		  AND slot_date + start_time >= $2::timestamp
		  AND slot_date + start_time < $3::timestamp`,
		therapistID, start.String(), end.String(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ReleaseStuckSlots(ctx context.Context, since calendar.Date) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE therapist_calendar_slots s
		SET status = 'available', updated_at = now()
		WHERE s.status = 'booked'
		  AND s.slot_date >= $1::date
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.therapist_id = s.therapist_id
			  AND a.status <> 'cancelled'
			  AND a.start_ts <= s.slot_date + s.start_time
			  AND a.end_ts > s.slot_date + s.start_time
		  )`,
		since.String(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Appointments

func (r *PgRepository) ListAppointments(ctx context.Context, therapistID uuid.UUID, from, to calendar.DateTime, includeCancelled bool) ([]calendar.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		LEFT JOIN users u ON u.id = a.client_id
		WHERE a.therapist_id = $1
		  AND a.start_ts < $3::timestamp
		  AND a.end_ts > $2::timestamp
		  AND ($4 OR a.status <> 'cancelled')
		ORDER BY a.start_ts`,
		therapistID, from.String(), to.String(), includeCancelled,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		LEFT JOIN users u ON u.id = a.client_id
		WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindOverlapping(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime, exclude *uuid.UUID) ([]calendar.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		LEFT JOIN users u ON u.id = a.client_id
		WHERE a.therapist_id = $1
		  AND a.status <> 'cancelled'
		  AND a.start_ts < $3::timestamp
		  AND a.end_ts > $2::timestamp
		  AND ($4::uuid IS NULL OR a.id <> $4::uuid)
		ORDER BY a.start_ts`,
		therapistID, start.String(), end.String(), exclude,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, appt calendar.Appointment) (*calendar.Appointment, error) {
	var locationType, address *string
	if appt.Location != nil {
		locationType = nullable(string(appt.Location.Type))
		address = nullable(appt.Location.Address)
	}

	row := r.db.QueryRow(ctx, `
		WITH a AS (
			INSERT INTO appointments (
				therapist_id, client_id, scheduling_request_id, start_ts, end_ts,
				status, recurring_rule, location_type, location_address
			)
			VALUES ($1::uuid, $2::uuid, $3::uuid, $4::timestamp, $5::timestamp, $6, $7, $8, $9)
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a
		LEFT JOIN users u ON u.id = a.client_id`,
		appt.TherapistID,
		appt.ClientID,
		nullable(appt.SchedulingRequestID),
		appt.Start.String(),
		appt.End.String(),
		string(appt.Status),
		string(appt.RecurringRule),
		locationType,
		address,
	)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, start, end calendar.DateTime, loc *calendar.Location, rule calendar.RecurringRule) (*calendar.Appointment, error) {
	var locationType, address *string
	if loc != nil {
		locationType = nullable(string(loc.Type))
		address = nullable(loc.Address)
	}

	row := r.db.QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments
			SET start_ts = $2::timestamp,
			    end_ts = $3::timestamp,
			    location_type = COALESCE($4::text, location_type),
			    location_address = CASE WHEN $4::text IS NULL THEN location_address ELSE $5::text END,
			    recurring_rule = COALESCE(NULLIF($6::text, ''), recurring_rule),
			    updated_at = now()
			WHERE id = $1
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a
		LEFT JOIN users u ON u.id = a.client_id`,
		id, start.String(), end.String(), locationType, address, string(rule),
	)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to calendar.AppointmentStatus, reason string) (*calendar.Appointment, error) {
	row := r.db.QueryRow(ctx, `
		WITH a AS (
			UPDATE appointments
			SET status = $3,
			    cancellation_reason = COALESCE($4::text, cancellation_reason),
			    updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM a
		LEFT JOIN users u ON u.id = a.client_id`,
		id, string(from), string(to), nullable(reason),
	)
	return scanAppointment(row)
}

// Scheduling requests

func (r *PgRepository) InsertRequest(ctx context.Context, req calendar.SchedulingRequest) (*calendar.SchedulingRequest, error) {
	createdAt := time.Now()
	if req.CreatedAt != nil {
		createdAt = *req.CreatedAt
	}

	row := r.db.QueryRow(ctx, `
		WITH r AS (
			INSERT INTO scheduling_requests (
				client_id, therapist_id, requested_slot_id, requested_date,
				requested_start_time, requested_end_time, status, client_message, created_at
			)
			VALUES ($1::uuid, $2::uuid, $3::uuid, $4::date, $5::time, $6::time, $7, $8, $9)
			RETURNING *
		)
		SELECT `+requestColumns+`
		FROM r`+requestJoins,
		req.ClientID,
		req.TherapistID,
		nullable(req.RequestedSlotID),
		req.RequestedDate.String(),
		req.RequestedStartTime.String(),
		req.RequestedEndTime.String(),
		string(req.Status),
		nullable(req.ClientMessage),
		createdAt,
	)
	return scanRequest(row)
}

func (r *PgRepository) GetRequest(ctx context.Context, id uuid.UUID) (*calendar.SchedulingRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM scheduling_requests r`+requestJoins+` WHERE r.id = $1`, id)
	return scanRequest(row)
}

func (r *PgRepository) ListPendingForTherapist(ctx context.Context, therapistID uuid.UUID) ([]calendar.SchedulingRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM scheduling_requests r`+requestJoins+`
		WHERE r.therapist_id = $1 AND r.status = 'pending'
		ORDER BY r.created_at DESC`, therapistID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) ListRecentForClient(ctx context.Context, clientID uuid.UUID, since time.Time, limit int) ([]calendar.SchedulingRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM scheduling_requests r`+requestJoins+`
		WHERE r.client_id = $1 AND r.created_at >= $2
		ORDER BY r.created_at DESC
		LIMIT $3`, clientID, since, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) ListRequestsForWeek(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date) ([]calendar.SchedulingRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+requestColumns+`
		FROM scheduling_requests r`+requestJoins+`
		WHERE r.therapist_id = $1
		  AND r.requested_date BETWEEN $2::date AND $3::date
		ORDER BY r.requested_date, r.requested_start_time`,
		therapistID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRequest)
}

func (r *PgRepository) ResolveRequest(ctx context.Context, id uuid.UUID, res Resolution) (*calendar.SchedulingRequest, error) {
	var alternatives *string
	if len(res.Alternatives) > 0 {
		data, err := json.Marshal(res.Alternatives)
		if err != nil {
			return nil, fmt.Errorf("encode suggested alternatives: %w", err)
		}
		s := string(data)
		alternatives = &s
	}

	row := r.db.QueryRow(ctx, `
		WITH r AS (
			UPDATE scheduling_requests
			SET status = $2,
			    therapist_response = $3,
			    suggested_alternatives = $4::jsonb,
			    cancelled_by = $5,
			    cancellation_reason = $6,
			    responded_at = $7
			WHERE id = $1 AND status = 'pending'
			RETURNING *
		)
		SELECT `+requestColumns+`
		FROM r`+requestJoins,
		id,
		string(res.Status),
		nullable(res.TherapistResponse),
		alternatives,
		nullable(res.CancelledBy),
		nullable(res.CancellationReason),
		res.RespondedAt,
	)
	resolved, err := scanRequest(row)
	if errors.Is(err, ErrRequestNotFound) {
		if _, getErr := r.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrRequestNotPending
	}
	return resolved, err
}

// Notifications

func (r *PgRepository) InsertNotification(ctx context.Context, n calendar.Notification) error {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO calendar_notifications (
			user_id, type, title, message, related_request_id, related_appointment_id, created_at
		)
		VALUES ($1::uuid, $2, $3, $4, $5::uuid, $6::uuid, $7)`,
		n.UserID, n.Type, n.Title, n.Message,
		nullable(n.RelatedRequestID), nullable(n.RelatedAppointmentID), createdAt,
	)
	return err
}

func (r *PgRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]calendar.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM calendar_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanNotification)
}

func (r *PgRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE calendar_notifications SET is_read = true
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
