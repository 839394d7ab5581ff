package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// LeadStatus is the position of a lead in the outreach lifecycle.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusFollowUp  LeadStatus = "follow-up"
	LeadStatusMeeting   LeadStatus = "meeting"
	LeadStatusClosed    LeadStatus = "closed"
)

// AllLeadStatuses returns every lead status in lifecycle order.
func AllLeadStatuses() []LeadStatus {
	return []LeadStatus{
		LeadStatusNew,
		LeadStatusContacted,
		LeadStatusFollowUp,
		LeadStatusMeeting,
		LeadStatusClosed,
	}
}

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	for _, v := range AllLeadStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// Industries accepted on a lead. Anything else is rejected at ingestion.
var Industries = []string{"Technology", "Finance", "Healthcare", "Education", "Retail"}

// DefaultIndustry is applied when a lead arrives without one.
const DefaultIndustry = "Technology"

// Lead is a prospective contact tracked through the outreach lifecycle.
type Lead struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Phone            string     `json:"phone"`
	Age              *int       `json:"age,omitempty"`
	Role             string     `json:"role"`
	Company          string     `json:"company"`
	Industry         string     `json:"industry"`
	Experience       int        `json:"experience"`
	Location         string     `json:"location"`
	LinkedIn         string     `json:"linkedin"`
	Source           string     `json:"source"`
	Category         string     `json:"category"`
	PreferredChannel string     `json:"preferred_channel"`
	Interests        []string   `json:"interests"`
	Status           LeadStatus `json:"status"`
	Checked          bool       `json:"checked"`
	ReadyToMeet      bool       `json:"ready_to_meet"`
	LeadScore        int        `json:"lead_score"`
	Insight          string     `json:"insight"`
	MeetingLink      string     `json:"meeting_link,omitempty"`
	MeetingDate      *time.Time `json:"meeting_date,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NeedsEnrichment reports whether the lead has not been scored yet.
func (l *Lead) NeedsEnrichment() bool {
	return l.LeadScore == 0 || l.Insight == ""
}

// SetEnrichment stores a score and insight, clamping the score to [0,100].
func (l *Lead) SetEnrichment(score int, insight string) {
	l.LeadScore = ClampScore(score)
	l.Insight = insight
}

// ClampScore bounds a lead score to [0,100].
func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Validate checks the invariants a stored lead must satisfy.
func (l *Lead) Validate() error {
	if !l.Status.Valid() {
		return eris.Errorf("model: invalid lead status %q", l.Status)
	}
	if l.LeadScore < 0 || l.LeadScore > 100 {
		return eris.Errorf("model: lead score %d out of range", l.LeadScore)
	}
	if l.Experience < 0 {
		return eris.Errorf("model: negative experience %d", l.Experience)
	}
	if l.Age != nil && *l.Age < 0 {
		return eris.Errorf("model: negative age %d", *l.Age)
	}
	if l.ReadyToMeet && l.Status != LeadStatusMeeting {
		return eris.Errorf("model: lead ready to meet but status is %q", l.Status)
	}
	return nil
}

// Profile returns the fields sent to the text generation service.
func (l *Lead) Profile() Profile {
	return Profile{
		LeadID:     l.ID,
		Name:       l.Name,
		Role:       l.Role,
		Age:        l.Age,
		Company:    l.Company,
		Industry:   l.Industry,
		Source:     l.Source,
		Interests:  l.Interests,
		Category:   l.Category,
		Experience: l.Experience,
		Location:   l.Location,
		Insight:    l.Insight,
		LeadScore:  l.LeadScore,
	}
}

// Profile is the subset of a lead used to prompt the text generation service.
type Profile struct {
	LeadID     string
	Name       string
	Role       string
	Age        *int
	Company    string
	Industry   string
	Source     string
	Interests  []string
	Category   string
	Experience int
	Location   string
	Insight    string
	LeadScore  int
}
