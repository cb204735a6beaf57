package fixtures

// Compliance fixtures: synthetic records in the shape the platform's
// compliance tooling consumes. They carry no lifecycle; tests construct
// them, read them, and throw them away. The validators that would judge
// them live outside this repository.

// DataProcessingActivity is one row of a GDPR Article 30 processing record.
type DataProcessingActivity struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Purpose        string   `json:"purpose"`
	LawfulBasis    string   `json:"lawfulBasis"`
	DataCategories []string `json:"dataCategories"`
	RetentionDays  int      `json:"retentionDays"`
	CrossBorder    bool     `json:"crossBorder"`
	Processor      string   `json:"processor"`
}

// SecurityControl is one control in a SOC 2 style control matrix.
type SecurityControl struct {
	ID          string `json:"id"`
	Family      string `json:"family"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Automated   bool   `json:"automated"`
	Owner       string `json:"owner"`
}

// DataProcessingActivities returns the standard fixture set: one activity
// per lawful basis the platform relies on, plus a cross-border one.
func DataProcessingActivities() []DataProcessingActivity {
	return []DataProcessingActivity{
		{
			ID:             "dpa-001",
			Name:           "Chat message storage",
			Purpose:        "Persist user conversations for continuity across sessions",
			LawfulBasis:    "contract",
			DataCategories: []string{"message content", "thread metadata"},
			RetentionDays:  365,
			Processor:      "platform",
		},
		{
			ID:             "dpa-002",
			Name:           "Agent execution telemetry",
			Purpose:        "Measure agent latency and failure rates",
			LawfulBasis:    "legitimate_interest",
			DataCategories: []string{"timing data", "agent identifiers"},
			RetentionDays:  90,
			Processor:      "platform",
		},
		{
			ID:             "dpa-003",
			Name:           "Marketing digest",
			Purpose:        "Send product updates to opted-in accounts",
			LawfulBasis:    "consent",
			DataCategories: []string{"email address", "locale"},
			RetentionDays:  730,
			Processor:      "mail-vendor",
		},
		{
			ID:             "dpa-004",
			Name:           "Translation quality review",
			Purpose:        "Human review of localized strings",
			LawfulBasis:    "legitimate_interest",
			DataCategories: []string{"message content"},
			RetentionDays:  30,
			CrossBorder:    true,
			Processor:      "translation-vendor",
		},
	}
}

// SecurityControls returns the standard fixture control matrix.
func SecurityControls() []SecurityControl {
	return []SecurityControl{
		{
			ID:          "sc-ac-01",
			Family:      "access_control",
			Title:       "Token-gated WebSocket connections",
			Description: "Connections without a valid bearer token are closed before the first envelope is processed.",
			Automated:   true,
			Owner:       "platform",
		},
		{
			ID:          "sc-ac-02",
			Family:      "access_control",
			Title:       "Admin role separation",
			Description: "Administrative operations require the admin role claim.",
			Automated:   true,
			Owner:       "platform",
		},
		{
			ID:          "sc-av-01",
			Family:      "availability",
			Title:       "Health endpoint monitoring",
			Description: "The health endpoint is probed continuously; degraded responses page the on-call.",
			Automated:   true,
			Owner:       "sre",
		},
		{
			ID:          "sc-ch-01",
			Family:      "change_management",
			Title:       "Scenario regression gate",
			Description: "Protocol changes must keep the golden-path scenario green before deploy.",
			Automated:   true,
			Owner:       "platform",
		},
		{
			ID:          "sc-ir-01",
			Family:      "incident_response",
			Title:       "Error envelope audit trail",
			Description: "Thread-scoped error envelopes are retained for incident reconstruction.",
			Automated:   false,
			Owner:       "sre",
		},
	}
}
