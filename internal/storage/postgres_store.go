package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/emergency-dispatch/internal/apperr"
	"github.com/example/emergency-dispatch/internal/models"
)

// PostgresStore is the durable Store implementation. The assign and resolve
// transitions run inside transactions so the two-entity updates either both
// land or neither does.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const alertColumns = `id, user_id, latitude, longitude, emergency_type, description, status, ambulance_id, created_at`

func scanAlert(row interface{ Scan(...any) error }) (models.EmergencyAlert, error) {
	var a models.EmergencyAlert
	var desc sql.NullString
	var amb sql.NullInt64
	err := row.Scan(&a.ID, &a.UserID, &a.Latitude, &a.Longitude, &a.EmergencyType, &desc, &a.Status, &amb, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.Description = desc.String
	if amb.Valid {
		a.AmbulanceID = &amb.Int64
	}
	return a, nil
}

func (p *PostgresStore) CreateAlert(ctx context.Context, in NewAlert) (models.EmergencyAlert, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO emergency_alerts (user_id, latitude, longitude, emergency_type, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'active', now())
		RETURNING `+alertColumns,
		in.UserID, in.Latitude, in.Longitude, in.EmergencyType, in.Description)
	return scanAlert(row)
}

func (p *PostgresStore) GetAlert(ctx context.Context, id int64) (models.EmergencyAlert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, apperr.NotFoundf("alert %d", id)
	}
	return a, err
}

func (p *PostgresStore) queryAlerts(ctx context.Context, query string, args ...any) ([]models.EmergencyAlert, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.EmergencyAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ActiveAlerts(ctx context.Context) ([]models.EmergencyAlert, error) {
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE status = 'active' ORDER BY created_at DESC, id DESC`)
}

func (p *PostgresStore) AlertsByUser(ctx context.Context, userID int64) ([]models.EmergencyAlert, error) {
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *PostgresStore) RecentAlerts(ctx context.Context, limit int) ([]models.EmergencyAlert, error) {
	return p.queryAlerts(ctx, `SELECT `+alertColumns+` FROM emergency_alerts ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (p *PostgresStore) AssignAmbulance(ctx context.Context, alertID, ambulanceID int64) (models.EmergencyAlert, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE id = $1 FOR UPDATE`, alertID)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmergencyAlert{}, apperr.NotFoundf("alert %d", alertID)
	}
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	if alert.Status == models.AlertResolved {
		return models.EmergencyAlert{}, apperr.Conflictf("alert %d already resolved", alertID)
	}

	// Conditional update, not read-then-write: the unit must still be
	// available when the write lands or the assignment loses the race.
	res, err := tx.ExecContext(ctx,
		`UPDATE ambulance_units SET status = 'dispatched' WHERE id = $1 AND status = 'available'`, ambulanceID)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM ambulance_units WHERE id = $1`, ambulanceID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return models.EmergencyAlert{}, apperr.NotFoundf("ambulance %d", ambulanceID)
		}
		if err != nil {
			return models.EmergencyAlert{}, err
		}
		return models.EmergencyAlert{}, apperr.Conflictf("ambulance %d is %s", ambulanceID, status)
	}

	// Re-assignment releases the previously dispatched unit.
	if alert.AmbulanceID != nil && *alert.AmbulanceID != ambulanceID {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ambulance_units SET status = 'available' WHERE id = $1 AND status = 'dispatched'`, *alert.AmbulanceID); err != nil {
			return models.EmergencyAlert{}, err
		}
	}

	row = tx.QueryRowContext(ctx, `
		UPDATE emergency_alerts SET status = 'in_progress', ambulance_id = $1 WHERE id = $2
		RETURNING `+alertColumns, ambulanceID, alertID)
	updated, err := scanAlert(row)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.EmergencyAlert{}, err
	}
	return updated, nil
}

func (p *PostgresStore) ResolveAlert(ctx context.Context, id int64) (models.EmergencyAlert, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE id = $1 FOR UPDATE`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EmergencyAlert{}, apperr.NotFoundf("alert %d", id)
	}
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	if !models.CanTransition(alert.Status, models.AlertResolved) {
		return models.EmergencyAlert{}, apperr.Conflictf("alert %d already resolved", id)
	}

	if alert.AmbulanceID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ambulance_units SET status = 'available' WHERE id = $1 AND status = 'dispatched'`, *alert.AmbulanceID); err != nil {
			return models.EmergencyAlert{}, err
		}
	}

	row = tx.QueryRowContext(ctx,
		`UPDATE emergency_alerts SET status = 'resolved' WHERE id = $1 RETURNING `+alertColumns, id)
	updated, err := scanAlert(row)
	if err != nil {
		return models.EmergencyAlert{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.EmergencyAlert{}, err
	}
	return updated, nil
}

const unitColumns = `id, name, latitude, longitude, status`

func scanUnit(row interface{ Scan(...any) error }) (models.AmbulanceUnit, error) {
	var u models.AmbulanceUnit
	var lat, lon sql.NullFloat64
	if err := row.Scan(&u.ID, &u.Name, &lat, &lon, &u.Status); err != nil {
		return u, err
	}
	if lat.Valid {
		u.Latitude = &lat.Float64
	}
	if lon.Valid {
		u.Longitude = &lon.Float64
	}
	return u, nil
}

func (p *PostgresStore) queryUnits(ctx context.Context, query string, args ...any) ([]models.AmbulanceUnit, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AmbulanceUnit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ambulances(ctx context.Context) ([]models.AmbulanceUnit, error) {
	return p.queryUnits(ctx, `SELECT `+unitColumns+` FROM ambulance_units ORDER BY id`)
}

func (p *PostgresStore) AvailableAmbulances(ctx context.Context) ([]models.AmbulanceUnit, error) {
	return p.queryUnits(ctx, `SELECT `+unitColumns+` FROM ambulance_units WHERE status = 'available' ORDER BY id`)
}

func (p *PostgresStore) GetAmbulance(ctx context.Context, id int64) (models.AmbulanceUnit, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM ambulance_units WHERE id = $1`, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return u, apperr.NotFoundf("ambulance %d", id)
	}
	return u, err
}

func (p *PostgresStore) UpdateAmbulanceStatus(ctx context.Context, id int64, status models.AmbulanceStatus) (models.AmbulanceUnit, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE ambulance_units SET status = $1 WHERE id = $2 RETURNING `+unitColumns, status, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return u, apperr.NotFoundf("ambulance %d", id)
	}
	return u, err
}

func (p *PostgresStore) UpdateAmbulanceLocation(ctx context.Context, id int64, lat, lon float64) (models.AmbulanceUnit, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE ambulance_units SET latitude = $1, longitude = $2 WHERE id = $3 RETURNING `+unitColumns, lat, lon, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return u, apperr.NotFoundf("ambulance %d", id)
	}
	return u, err
}

func (p *PostgresStore) Facilities(ctx context.Context) ([]models.MedicalFacility, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, type, address, latitude, longitude, COALESCE(phone, ''), COALESCE(open_hours, ''), COALESCE(rating, '') FROM medical_facilities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.MedicalFacility, 0)
	for rows.Next() {
		var f models.MedicalFacility
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Address, &f.Latitude, &f.Longitude, &f.Phone, &f.OpenHours, &f.Rating); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx, `SELECT id, username, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return u, apperr.NotFoundf("user %d", id)
	}
	return u, err
}

func (p *PostgresStore) SaveChatMessage(ctx context.Context, msg models.ChatMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chat_messages (message_id, text, sender, user_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		msg.ID, msg.Text, msg.Sender, msg.UserID, msg.RecipientID, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}
