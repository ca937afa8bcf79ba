package repository

import "github.com/Masterminds/squirrel"

// psql builds PostgreSQL statements with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// staffInFaculty restricts a users alias "u" to staff linked to a faculty through
// a professor assignment or a student-service profile.
const staffInFaculty = `u.id IN (
	SELECT pa.user_id FROM professor_assignments pa JOIN departments d ON d.id = pa.department_id WHERE d.faculty_id = ?
	UNION
	SELECT ss.user_id FROM student_service_profiles ss JOIN departments d ON d.id = ss.department_id WHERE d.faculty_id = ?
)`

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
