package shared

// Ledger permissions.
const (
	PermProgressView  = "progress.view"
	PermProgressEdit  = "progress.edit"
	PermProgressReset = "progress.reset"

	PermCreditView = "credits.view"
	PermCreditEdit = "credits.edit"

	PermAttendanceReport    = "attendance.report"
	PermAttendanceReconcile = "attendance.reconcile"

	PermStudentsEdit = "students.edit"

	PermCodesIssue  = "codes.issue"
	PermCodesManage = "codes.manage"
	PermCodesRedeem = "codes.redeem"
)

// RolePermissions returns the grants of a trusted role. Unknown roles get none.
func RolePermissions(role Role) []string {
	switch role {
	case RoleAdmin:
		return []string{
			PermProgressView, PermProgressEdit, PermProgressReset,
			PermCreditView, PermCreditEdit,
			PermAttendanceReport, PermAttendanceReconcile,
			PermStudentsEdit,
			PermCodesIssue, PermCodesManage, PermCodesRedeem,
		}
	case RoleAssistant:
		return []string{
			PermProgressView, PermProgressEdit,
			PermCreditView,
			PermAttendanceReport,
			PermCodesIssue,
		}
	case RoleStudent:
		return []string{PermCodesRedeem}
	}
	return nil
}
