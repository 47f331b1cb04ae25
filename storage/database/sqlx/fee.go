package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/fee"
)

type feeTypeRow struct {
	ID          string      `db:"id"`
	Name        string      `db:"name"`
	Code        string      `db:"code"`
	Category    string      `db:"category"`
	IsRecurring bool        `db:"is_recurring"`
	Description null.String `db:"description"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func newFeeTypeRow(ft fee.FeeType) feeTypeRow {
	return feeTypeRow{
		ID:          ft.ID,
		Name:        ft.Name,
		Code:        ft.Code,
		Category:    ft.Category,
		IsRecurring: ft.IsRecurring,
		Description: null.NewString(ft.Description, ft.Description != ""),
		CreatedAt:   ft.CreatedAt,
		UpdatedAt:   ft.UpdatedAt,
	}
}

func (r feeTypeRow) feeType() fee.FeeType {
	return fee.FeeType{
		ID:          r.ID,
		Name:        r.Name,
		Code:        r.Code,
		Category:    r.Category,
		IsRecurring: r.IsRecurring,
		Description: r.Description.String,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type feeStructureRow struct {
	ID           string          `db:"id"`
	ClassID      string          `db:"class_id"`
	FeeTypeID    string          `db:"fee_type_id"`
	AcademicYear string          `db:"academic_year"`
	Amount       decimal.Decimal `db:"amount"`
	Frequency    string          `db:"frequency"`
	Description  null.String     `db:"description"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`

	FeeType feeTypeRow `db:"ft"`
}

func newFeeStructureRow(fs fee.FeeStructure) feeStructureRow {
	return feeStructureRow{
		ID:           fs.ID,
		ClassID:      fs.ClassID,
		FeeTypeID:    fs.FeeTypeID,
		AcademicYear: fs.AcademicYear,
		Amount:       fs.Amount,
		Frequency:    fs.Frequency,
		Description:  null.NewString(fs.Description, fs.Description != ""),
		CreatedAt:    fs.CreatedAt,
		UpdatedAt:    fs.UpdatedAt,
	}
}

func (r feeStructureRow) feeStructure() fee.FeeStructure {
	fs := fee.FeeStructure{
		ID:           r.ID,
		ClassID:      r.ClassID,
		FeeTypeID:    r.FeeTypeID,
		AcademicYear: r.AcademicYear,
		Amount:       r.Amount,
		Frequency:    r.Frequency,
		Description:  r.Description.String,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.FeeType.ID != "" {
		ft := r.FeeType.feeType()
		fs.FeeType = &ft
	}
	return fs
}

const (
	feeTypeColumns = `id, name, code, category, is_recurring, description, created_at, updated_at`

	selectFeeStructures = `
		SELECT fs.id, fs.class_id, fs.fee_type_id, fs.academic_year, fs.amount, fs.frequency,
			fs.description, fs.created_at, fs.updated_at,
			ft.id AS "ft.id", ft.name AS "ft.name", ft.code AS "ft.code", ft.category AS "ft.category",
			ft.is_recurring AS "ft.is_recurring", ft.description AS "ft.description",
			ft.created_at AS "ft.created_at", ft.updated_at AS "ft.updated_at"
		FROM fee_structures fs
		JOIN fee_types ft ON ft.id = fs.fee_type_id`
)

type feeRepository struct {
	db core.DB
}

var _ fee.Repository = (*feeRepository)(nil)

func NewFeeRepository(db core.DB) *feeRepository {
	return &feeRepository{db: db}
}

func (repo *feeRepository) CreateFeeType(ctx context.Context, ft fee.FeeType) (fee.FeeType, error) {
	q := `INSERT INTO fee_types (` + feeTypeColumns + `)
		VALUES (:id, :name, :code, :category, :is_recurring, :description, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, newFeeTypeRow(ft)); err != nil {
		if code, _ := pqError(err); code == uniqueViolation {
			return fee.FeeType{}, fee.ErrCodeExists
		}
		return fee.FeeType{}, errors.Wrap(err, "inserting fee type")
	}
	return ft, nil
}

func (repo *feeRepository) GetFeeType(ctx context.Context, id string) (fee.FeeType, error) {
	if !validID(id) {
		return fee.FeeType{}, fee.ErrFeeTypeNotFound
	}
	var row feeTypeRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+feeTypeColumns+` FROM fee_types WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return fee.FeeType{}, fee.ErrFeeTypeNotFound
	}
	if err != nil {
		return fee.FeeType{}, errors.Wrap(err, "selecting fee type")
	}
	return row.feeType(), nil
}

func (repo *feeRepository) QueryFeeTypes(ctx context.Context, filter fee.TypeFilter) ([]fee.FeeType, error) {
	var w where
	w.addIf(filter.Category != "", "category = $%[1]d", filter.Category)
	if filter.IsRecurring != nil {
		w.add("is_recurring = $%[1]d", *filter.IsRecurring)
	}
	w.addIf(filter.Search != "", "(LOWER(name) LIKE $%[1]d OR LOWER(code) LIKE $%[1]d)", "%"+filter.Search+"%")

	var rows []feeTypeRow
	q := `SELECT ` + feeTypeColumns + ` FROM fee_types` + w.String() + ` ORDER BY name, code`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting fee types")
	}

	types := make([]fee.FeeType, 0, len(rows))
	for _, r := range rows {
		types = append(types, r.feeType())
	}
	return types, nil
}

func structureWriteError(err error) error {
	switch code, _ := pqError(err); code {
	case uniqueViolation:
		return fee.ErrStructureExists
	case foreignKeyViolation:
		return fee.ErrFeeTypeNotFound
	}
	return err
}

func (repo *feeRepository) CreateFeeStructure(ctx context.Context, fs fee.FeeStructure) (fee.FeeStructure, error) {
	q := `INSERT INTO fee_structures
		(id, class_id, fee_type_id, academic_year, amount, frequency, description, created_at, updated_at)
		VALUES (:id, :class_id, :fee_type_id, :academic_year, :amount, :frequency, :description, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, newFeeStructureRow(fs)); err != nil {
		return fee.FeeStructure{}, errors.Wrap(structureWriteError(err), "inserting fee structure")
	}
	return fs, nil
}

func getFeeStructure(ctx context.Context, exec core.DBExecutor, id string) (fee.FeeStructure, error) {
	if !validID(id) {
		return fee.FeeStructure{}, fee.ErrFeeStructureNotFound
	}
	var row feeStructureRow
	err := exec.GetContext(ctx, &row, selectFeeStructures+` WHERE fs.id = $1`, id)
	if err == sql.ErrNoRows {
		return fee.FeeStructure{}, fee.ErrFeeStructureNotFound
	}
	if err != nil {
		return fee.FeeStructure{}, errors.Wrap(err, "selecting fee structure")
	}
	return row.feeStructure(), nil
}

func (repo *feeRepository) GetFeeStructure(ctx context.Context, id string) (fee.FeeStructure, error) {
	return getFeeStructure(ctx, repo.db, id)
}

func (repo *feeRepository) QueryFeeStructures(ctx context.Context, filter fee.StructureFilter) ([]fee.FeeStructure, error) {
	var w where
	w.addIf(filter.ClassID != "", "fs.class_id = $%[1]d", filter.ClassID)
	w.addIf(filter.FeeTypeID != "", "fs.fee_type_id::text = $%[1]d", filter.FeeTypeID)
	w.addIf(filter.AcademicYear != "", "fs.academic_year = $%[1]d", filter.AcademicYear)
	w.addIf(filter.Frequency != "", "fs.frequency = $%[1]d", filter.Frequency)

	var rows []feeStructureRow
	q := selectFeeStructures + w.String() + ` ORDER BY fs.academic_year DESC, fs.class_id, ft.name`
	if err := repo.db.SelectContext(ctx, &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting fee structures")
	}

	structures := make([]fee.FeeStructure, 0, len(rows))
	for _, r := range rows {
		structures = append(structures, r.feeStructure())
	}
	return structures, nil
}

// lockFeeStructure holds the row until the end of tx; assignments inserting student fees wait on it.
func lockFeeStructure(ctx context.Context, tx *sqlx.Tx, id string) error {
	if !validID(id) {
		return fee.ErrFeeStructureNotFound
	}
	var locked string
	err := tx.GetContext(ctx, &locked, `SELECT id FROM fee_structures WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return fee.ErrFeeStructureNotFound
	}
	return errors.Wrap(err, "locking fee structure")
}

func countStudentFees(ctx context.Context, exec core.DBExecutor, structureID string) (int, error) {
	if !validID(structureID) {
		return 0, nil
	}
	var n int
	err := exec.GetContext(ctx, &n, `SELECT COUNT(*) FROM student_fees WHERE fee_structure_id = $1`, structureID)
	return n, errors.Wrap(err, "counting student fees")
}

func (repo *feeRepository) UpdateFeeStructure(ctx context.Context, fs fee.FeeStructure, pricingChanged bool) (fee.FeeStructure, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := lockFeeStructure(ctx, tx, fs.ID); err != nil {
			return err
		}
		if pricingChanged {
			n, err := countStudentFees(ctx, tx, fs.ID)
			if err != nil {
				return err
			}
			if n > 0 {
				return fee.ErrStructureFrozen
			}
		}

		q := `UPDATE fee_structures SET
			class_id = :class_id, fee_type_id = :fee_type_id, academic_year = :academic_year, amount = :amount,
			frequency = :frequency, description = :description, updated_at = :updated_at
			WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, q, newFeeStructureRow(fs)); err != nil {
			return errors.Wrap(structureWriteError(err), "updating fee structure")
		}
		return nil
	})
	if err != nil {
		return fee.FeeStructure{}, err
	}
	return fs, nil
}

func (repo *feeRepository) DeleteFeeStructure(ctx context.Context, id string) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := lockFeeStructure(ctx, tx, id); err != nil {
			return err
		}
		n, err := countStudentFees(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fee.ErrStructureInUse
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM fee_structures WHERE id = $1`, id); err != nil {
			if code, _ := pqError(err); code == foreignKeyViolation {
				return fee.ErrStructureInUse
			}
			return errors.Wrap(err, "deleting fee structure")
		}
		return nil
	})
}

func (repo *feeRepository) CountStudentFees(ctx context.Context, structureID string) (int, error) {
	return countStudentFees(ctx, repo.db, structureID)
}
