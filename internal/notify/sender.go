package notify

import "context"

// Sender delivers a composed message. Errors should be wrapped with
// Transient or Permanent; unclassified errors are retried.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

// Receipt is the provider acknowledgement of a send.
type Receipt struct {
	MessageID string
}

// Message is a notification ready for rendering.
type Message struct {
	RecordID string
	Kind     Kind
	To       string
	ToName   string
	Data     TemplateData
}

// Meal is one line of a meal listing.
type Meal struct {
	Date          string `json:"date"`
	DateLabel     string `json:"date_label"`
	MealType      string `json:"meal_type"`
	Description   string `json:"description,omitempty"`
	VolunteerName string `json:"volunteer_name,omitempty"`
}

// SummaryCounts feed the organizer daily summary.
type SummaryCounts struct {
	TotalConfirmed int `json:"total_confirmed"`
	UncoveredAhead int `json:"uncovered_ahead"`
}

// TemplateData holds every fact a template may render.
type TemplateData struct {
	FamilyName          string
	RecipientName       string
	OrganizerName       string
	OrganizerEmail      string
	Address             string
	City                string
	DropOffInstructions string
	StartDate           string
	EndDate             string
	Date                string
	DateLabel           string

	Meals          []Meal
	UncoveredDates []string
	Summary        SummaryCounts
	InvitedBy      string

	PageURL      string
	OrganizerURL string
	AcceptURL    string
}
