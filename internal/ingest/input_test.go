package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sdr-cli/internal/model"
)

func validInput() LeadInput {
	return LeadInput{
		Name:       "Grace Hopper",
		Email:      "grace@navy.mil",
		Role:       "Rear Admiral",
		Company:    "US Navy",
		Industry:   "technology",
		Experience: 40,
	}
}

func TestInterests_UnmarshalJSON(t *testing.T) {
	var in LeadInput
	require.NoError(t, json.Unmarshal([]byte(`{"interests":["ai","cloud"]}`), &in))
	assert.Equal(t, Interests{"ai", "cloud"}, in.Interests)

	require.NoError(t, json.Unmarshal([]byte(`{"interests":"ai | cloud||data "}`), &in))
	assert.Equal(t, Interests{"ai", "cloud", "data"}, in.Interests)

	require.NoError(t, json.Unmarshal([]byte(`{"interests":""}`), &in))
	assert.Empty(t, in.Interests)

	assert.Error(t, json.Unmarshal([]byte(`{"interests":42}`), &in))
}

func TestNormalize(t *testing.T) {
	in := Normalize(LeadInput{
		Name:      "  Grace Hopper ",
		Email:     " Grace@Navy.MIL ",
		Phone:     " +1-555-0100X ",
		Role:      " Admiral ",
		Company:   " US Navy ",
		Industry:  " hEALTHCARE ",
		Interests: Interests{" compilers ", "", "cobol"},
	})
	assert.Equal(t, "Grace Hopper", in.Name)
	assert.Equal(t, "grace@navy.mil", in.Email)
	assert.Equal(t, "+1-555-0100x", in.Phone)
	assert.Equal(t, "Admiral", in.Role)
	assert.Equal(t, "Healthcare", in.Industry)
	assert.Equal(t, "general", in.Category)
	assert.Equal(t, "email", in.PreferredChannel)
	assert.Equal(t, Interests{"compilers", "cobol"}, in.Interests)
}

func TestNormalize_DefaultIndustry(t *testing.T) {
	assert.Equal(t, model.DefaultIndustry, Normalize(LeadInput{}).Industry)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Normalize(validInput())))

	tests := []struct {
		name   string
		mutate func(*LeadInput)
		want   string
	}{
		{"missing name", func(in *LeadInput) { in.Name = "" }, "name is required"},
		{"short name", func(in *LeadInput) { in.Name = "G" }, "name must be at least 2"},
		{"missing email", func(in *LeadInput) { in.Email = "" }, "email is required"},
		{"bad email", func(in *LeadInput) { in.Email = "not-an-email" }, "email must be a valid address"},
		{"missing role", func(in *LeadInput) { in.Role = "" }, "role is required"},
		{"missing company", func(in *LeadInput) { in.Company = "" }, "company is required"},
		{"negative experience", func(in *LeadInput) { in.Experience = -1 }, "experience must not be negative"},
		{"negative age", func(in *LeadInput) { a := -3; in.Age = &a }, "age must not be negative"},
		{"unknown industry", func(in *LeadInput) { in.Industry = "Mining" }, "industry must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := Validate(Normalize(in))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidLead)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateImport_OnlyNameAndEmailRequired(t *testing.T) {
	in := Normalize(LeadInput{Name: "Grace", Email: "grace@navy.mil"})
	assert.NoError(t, validateImport(in))
	assert.Error(t, Validate(in))

	assert.ErrorIs(t, validateImport(Normalize(LeadInput{Name: "Grace"})), ErrInvalidLead)
}

func TestLeadInput_Lead(t *testing.T) {
	age := 85
	in := validInput()
	in.Age = &age
	l := Normalize(in).Lead()
	assert.Equal(t, model.LeadStatusNew, l.Status)
	assert.False(t, l.Checked)
	assert.Equal(t, "grace@navy.mil", l.Email)
	assert.Equal(t, "Technology", l.Industry)
	assert.Equal(t, &age, l.Age)
	assert.Zero(t, l.LeadScore)
}
