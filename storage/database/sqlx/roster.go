package sqlxrepos

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
)

// rosterRepository reads the class enrollments replicated from the student directory.
type rosterRepository struct {
	db core.DB
}

var _ billing.Roster = (*rosterRepository)(nil)

func NewRosterRepository(db core.DB) *rosterRepository {
	return &rosterRepository{db: db}
}

func (repo *rosterRepository) ClassStudentIDs(ctx context.Context, classID, academicYear string) ([]string, error) {
	var ids []string
	q := `SELECT student_id FROM class_enrollments WHERE class_id = $1 AND academic_year = $2 ORDER BY student_id`
	if err := repo.db.SelectContext(ctx, &ids, q, classID, academicYear); err != nil {
		return nil, errors.Wrap(err, "selecting class enrollments")
	}
	return ids, nil
}

// Enroll upserts class enrollments; used by the directory sync & the admin CLI.
func (repo *rosterRepository) Enroll(ctx context.Context, classID, academicYear string, studentIDs ...string) error {
	q := `INSERT INTO class_enrollments (student_id, class_id, academic_year)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`
	for _, id := range studentIDs {
		if _, err := repo.db.ExecContext(ctx, q, id, classID, academicYear); err != nil {
			return errors.Wrapf(err, "enrolling student %s", id)
		}
	}
	return nil
}
