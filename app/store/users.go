package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/She20222w/AGILIZAP-ONLINE/app/models"
)

const userColumns = `id, email, name, phone, plan, status, minutes_used, service_type,
	last_payment_at, stripe_customer_id, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var (
		u           models.User
		serviceType sql.NullString
		lastPayment sql.NullTime
		customerID  sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.Phone,
		&u.Plan,
		&u.Status,
		&u.MinutesUsed,
		&serviceType,
		&lastPayment,
		&customerID,
		&u.CreatedAt,
	)
	if err != nil {
		return models.User{}, err
	}
	if serviceType.Valid {
		st := models.ServiceType(serviceType.String)
		u.ServiceType = &st
	}
	if lastPayment.Valid {
		t := lastPayment.Time
		u.LastPaymentAt = &t
	}
	u.StripeCustomerID = customerID.String
	return u, nil
}

// NewUser is the data collected at signup.
type NewUser struct {
	ID          string
	Email       string
	Name        string
	Phone       string
	Plan        models.Plan
	ServiceType *models.ServiceType
}

// CreateUser inserts a signup. The very first account becomes the reseller;
// every later one starts inactive until its first payment. The table lock
// serializes concurrent first signups.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (models.User, error) {
	const op = "store.CreateUser"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE;`); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	var anyUsers bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users);`).Scan(&anyUsers); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	status := models.StatusInactive
	var lastPayment sql.NullTime
	if !anyUsers {
		status = models.StatusReseller
		lastPayment = sql.NullTime{Time: s.now(), Valid: true}
	}

	var serviceType sql.NullString
	if nu.ServiceType != nil {
		serviceType = nullIfEmpty(string(*nu.ServiceType))
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, phone, plan, status, minutes_used, service_type, last_payment_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+userColumns+`;
	`, nu.ID, nu.Email, nu.Name, nu.Phone, nu.Plan, status, serviceType, lastPayment)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err, "") {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Store) getOne(ctx context.Context, op, where string, arg any) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+`;`, arg)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.getOne(ctx, "store.GetUser", "id = $1", id)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	return s.getOne(ctx, "store.GetUserByPhone", "phone = $1 ORDER BY created_at LIMIT 1", phone)
}

func (s *Store) GetUserByStripeCustomer(ctx context.Context, customerID string) (models.User, error) {
	return s.getOne(ctx, "store.GetUserByStripeCustomer", "stripe_customer_id = $1", customerID)
}

// ListUsers returns every account, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "store.ListUsers"

	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC;`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *Store) updateReturning(ctx context.Context, op, query string, args ...any) (models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		if isUniqueViolation(err, "users_single_reseller") {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrResellerExists)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// UpdateProfile changes only the non-nil fields.
func (s *Store) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (models.User, error) {
	var (
		name, phone, plan, serviceType sql.NullString
	)
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.Phone != nil {
		phone = nullIfEmpty(*upd.Phone)
	}
	if upd.Plan != nil {
		plan = nullIfEmpty(string(*upd.Plan))
	}
	if upd.ServiceType != nil {
		serviceType = nullIfEmpty(string(*upd.ServiceType))
	}

	return s.updateReturning(ctx, "store.UpdateProfile", `
		UPDATE users
		SET name = COALESCE($2, name),
			phone = COALESCE($3, phone),
			plan = COALESCE($4, plan),
			service_type = COALESCE($5, service_type)
		WHERE id = $1
		RETURNING `+userColumns+`;
	`, id, name, phone, plan, serviceType)
}

// UpdateStatus is the admin status switch. Promoting a second account to
// reseller fails with ErrResellerExists.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) (models.User, error) {
	return s.updateReturning(ctx, "store.UpdateStatus", `
		UPDATE users
		SET status = $2
		WHERE id = $1
		RETURNING `+userColumns+`;
	`, id, status)
}

// Payment describes a successful charge to apply to an account.
type Payment struct {
	At         time.Time
	Plan       *models.Plan
	CustomerID string
}

const applyPayment = `
		SET status = CASE WHEN status = 'reseller' THEN status ELSE 'active' END,
			last_payment_at = $2,
			minutes_used = 0,
			plan = COALESCE($3, plan),
			stripe_customer_id = COALESCE($4, stripe_customer_id)
`

func paymentArgs(p Payment) (time.Time, sql.NullString, sql.NullString) {
	var plan sql.NullString
	if p.Plan != nil {
		plan = nullIfEmpty(string(*p.Plan))
	}
	return p.At, plan, nullIfEmpty(p.CustomerID)
}

// RecordPayment activates the account, refreshes last_payment_at and starts
// a fresh minute allotment.
func (s *Store) RecordPayment(ctx context.Context, id string, p Payment) (models.User, error) {
	at, plan, customer := paymentArgs(p)
	return s.updateReturning(ctx, "store.RecordPayment", `
		UPDATE users`+applyPayment+`
		WHERE id = $1
		RETURNING `+userColumns+`;
	`, id, at, plan, customer)
}

// RecordPaymentByCustomer is RecordPayment keyed by Stripe customer id.
func (s *Store) RecordPaymentByCustomer(ctx context.Context, customerID string, p Payment) (models.User, error) {
	at, plan, _ := paymentArgs(p)
	return s.updateReturning(ctx, "store.RecordPaymentByCustomer", `
		UPDATE users`+applyPayment+`
		WHERE stripe_customer_id = $1
		RETURNING `+userColumns+`;
	`, customerID, at, plan, sql.NullString{})
}

// DeactivateByCustomer soft-cancels the account owning a Stripe customer.
// The reseller is never demoted this way.
func (s *Store) DeactivateByCustomer(ctx context.Context, customerID string) (models.User, error) {
	return s.updateReturning(ctx, "store.DeactivateByCustomer", `
		UPDATE users
		SET status = CASE WHEN status = 'reseller' THEN status ELSE 'inactive' END
		WHERE stripe_customer_id = $1
		RETURNING `+userColumns+`;
	`, customerID)
}

func (s *Store) SetStripeCustomer(ctx context.Context, id, customerID string) error {
	const op = "store.SetStripeCustomer"
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET stripe_customer_id = $2
		WHERE id = $1;
	`, id, customerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}
