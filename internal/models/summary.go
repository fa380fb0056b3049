package models

type Assignment struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Tier      string `json:"tier"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updatedAt"`
}

// DriverSummary is the dashboard summary returned by the backend
type DriverSummary struct {
	User struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"user"`
	Metrics struct {
		AssignmentsActive int     `json:"assignmentsActive"`
		MilesToday        float64 `json:"milesToday"`
		ImpressionsToday  int64   `json:"impressionsToday"`
		EarningsToday     float64 `json:"earningsToday"`
	} `json:"metrics"`
	AssignmentTiers   []string     `json:"assignmentTiers"`
	AssignmentsSample []Assignment `json:"assignmentsSample,omitempty"`
	PackagesPending   int          `json:"packagesPending"`
	ServerTime        string       `json:"serverTime"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}
