package ingest

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/sdr-cli/internal/model"
)

// ErrInvalidLead is returned when lead input fails validation.
var ErrInvalidLead = eris.New("ingest: invalid lead")

// Interests accepts either a JSON array or a single "a|b|c" string.
type Interests []string

// UnmarshalJSON implements json.Unmarshaler.
func (i *Interests) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*i = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "ingest: interests must be a list or a '|' separated string")
	}
	*i = splitInterests(s)
	return nil
}

func splitInterests(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LeadInput is a lead as submitted by an operator or an import file.
type LeadInput struct {
	Name             string    `json:"name" validate:"required,min=2"`
	Email            string    `json:"email" validate:"required"`
	Phone            string    `json:"phone"`
	Age              *int      `json:"age,omitempty" validate:"omitempty,gte=0"`
	Role             string    `json:"role" validate:"required"`
	Company          string    `json:"company" validate:"required"`
	Industry         string    `json:"industry" validate:"industry"`
	Experience       int       `json:"experience" validate:"gte=0"`
	Location         string    `json:"location"`
	LinkedIn         string    `json:"linkedin"`
	Source           string    `json:"lead_source"`
	Category         string    `json:"category"`
	PreferredChannel string    `json:"preferred_channel"`
	Interests        Interests `json:"interests"`
}

// importFields are the fields checked on bulk import, where only a name
// and an address are required.
var importFields = []string{"Name", "Email", "Age", "Industry", "Experience"}

var (
	validate = newValidator()
	title    = cases.Title(language.English)
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("industry", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.Industries, fl.Field().String())
	})
	return v
}

// Normalize trims every field, lowercases email and phone, title-cases the
// industry and applies defaults.
func Normalize(in LeadInput) LeadInput {
	out := in
	out.Name = strings.TrimSpace(in.Name)
	out.Email = strings.ToLower(strings.TrimSpace(in.Email))
	out.Phone = strings.ToLower(strings.TrimSpace(in.Phone))
	out.Role = strings.TrimSpace(in.Role)
	out.Company = strings.TrimSpace(in.Company)
	out.Location = strings.TrimSpace(in.Location)
	out.LinkedIn = strings.TrimSpace(in.LinkedIn)
	out.Source = strings.TrimSpace(in.Source)

	out.Industry = strings.TrimSpace(in.Industry)
	if out.Industry == "" {
		out.Industry = model.DefaultIndustry
	} else {
		out.Industry = title.String(strings.ToLower(out.Industry))
	}

	out.Category = strings.TrimSpace(in.Category)
	if out.Category == "" {
		out.Category = "general"
	}
	out.PreferredChannel = strings.TrimSpace(in.PreferredChannel)
	if out.PreferredChannel == "" {
		out.PreferredChannel = "email"
	}

	out.Interests = nil
	for _, i := range in.Interests {
		if i = strings.TrimSpace(i); i != "" {
			out.Interests = append(out.Interests, i)
		}
	}
	return out
}

// Validate checks a normalized single-lead submission.
func Validate(in LeadInput) error {
	return check(validate.Struct(in), in.Email)
}

// validateImport checks a normalized import row.
func validateImport(in LeadInput) error {
	return check(validate.StructPartial(in, importFields...), in.Email)
}

func check(err error, email string) error {
	var problems []string
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "ingest: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if email != "" {
		if err := checkmail.ValidateFormat(email); err != nil {
			problems = append(problems, "email must be a valid address")
		}
	}
	if len(problems) > 0 {
		return eris.Wrap(ErrInvalidLead, strings.Join(problems, ", "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "gte":
		return field + " must not be negative"
	case "industry":
		return field + " must be one of " + strings.Join(model.Industries, ", ")
	default:
		return field + " is invalid"
	}
}

// Lead converts normalized input into a new lead.
func (in LeadInput) Lead() model.Lead {
	return model.Lead{
		Name:             in.Name,
		Email:            in.Email,
		Phone:            in.Phone,
		Age:              in.Age,
		Role:             in.Role,
		Company:          in.Company,
		Industry:         in.Industry,
		Experience:       in.Experience,
		Location:         in.Location,
		LinkedIn:         in.LinkedIn,
		Source:           in.Source,
		Category:         in.Category,
		PreferredChannel: in.PreferredChannel,
		Interests:        in.Interests,
		Status:           model.LeadStatusNew,
	}
}
