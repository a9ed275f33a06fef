package features

// DefaultDefinitions is the built-in feature catalogue and its prerequisites.
func DefaultDefinitions() map[string][]string {
	return map[string][]string{
		"students":   {},
		"staff":      {},
		"classes":    {"students", "staff"},
		"attendance": {"students"},

		"leave_management": {"staff"},
		"timetables":       {"students", "staff", "classes"},
		"student_history":  {"students"},

		"pdf_reports":      {},
		"excel_export":     {"pdf_reports"},
		"report_templates": {"pdf_reports"},
		"advanced_reports": {"pdf_reports"},

		"subjects":                    {"classes", "staff"},
		"teacher_subject_assignments": {"subjects", "staff"},

		"exams":                {"students", "staff", "classes"},
		"exams_full":           {"exams", "subjects"},
		"question_bank":        {"exams_full", "subjects"},
		"exam_paper_generator": {"question_bank"},
		"grades":               {"exams_full"},

		"library":       {"students"},
		"short_courses": {"students", "staff", "subjects"},
		"assets":        {"staff"},

		"finance":        {"students", "staff"},
		"fees":           {"finance"},
		"multi_currency": {"finance"},

		"dms":              {"staff"},
		"letter_templates": {"dms"},
		"events":           {"staff"},

		"graduation":               {"exams", "student_history"},
		"certificate_verification": {"graduation", "dms"},

		"id_cards":            {"students"},
		"custom_id_templates": {"id_cards"},

		"custom_branding": {},
		"hostel":          {"students"},
		"multi_school":    {},
		"api_access":      {},
		"public_website":  {},
	}
}
