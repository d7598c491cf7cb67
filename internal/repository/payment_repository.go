package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/MoonPathBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (namespace, plan, card_last4, status, message)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, payment.Namespace, payment.Plan, payment.CardLast4, payment.Status, payment.Message)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (r *PaymentRepository) ListByNamespace(ctx context.Context, namespace string, limit int) ([]models.Payment, error) {
	const query = `
SELECT id, namespace, plan, card_last4, status, message, created_at
FROM payments WHERE namespace = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.Namespace, &p.Plan, &p.CardLast4, &p.Status, &p.Message, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
