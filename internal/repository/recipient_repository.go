package repository

import (
	"database/sql"

	"github.com/komi12345/ChatbotFrance-sub000/internal/model"
)

type RecipientRepositoryInterface interface {
	GetByID(id int) (*model.Recipient, error)
	GetByPhone(phone string) (*model.Recipient, error)
	ListActive() ([]model.Recipient, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, phone, first_name, last_name, location, preferred_product, active`

func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	var rec model.Recipient
	err := r.DB.QueryRow(query, id).Scan(
		&rec.ID, &rec.Phone, &rec.FirstName, &rec.LastName,
		&rec.Location, &rec.PreferredProduct, &rec.Active,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) GetByPhone(phone string) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE phone = $1`
	var rec model.Recipient
	err := r.DB.QueryRow(query, phone).Scan(
		&rec.ID, &rec.Phone, &rec.FirstName, &rec.LastName,
		&rec.Location, &rec.PreferredProduct, &rec.Active,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) ListActive() ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE active ORDER BY id`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.Phone, &rec.FirstName, &rec.LastName,
			&rec.Location, &rec.PreferredProduct, &rec.Active,
		); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
