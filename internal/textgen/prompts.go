package textgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/sdr-cli/internal/model"
)

const scoreSystemPrompt = `You evaluate sales leads for %s, a company that trains people to become software developers. You respond with JSON only.`

const scoreUserPrompt = `Evaluate the lead below and return:

1. lead_score: an integer from 0 to 100 for how likely the lead is to enroll and complete the program.
   Score higher for a computer science or IT background, coding experience, clear motivation to become a developer, or relevant certifications.
   Score lower for no interest in software development, an unrelated background without transferable skills, or low motivation.
   Scores above 80 are reserved for highly qualified and motivated leads.
2. insight: 20 to 30 words on why the lead is promising or what the sales team should focus on.

Lead details:
%s

Respond strictly as JSON:
{"lead_score": number, "insight": string}`

const draftSystemPrompt = `You write outreach email for %s. You respond with JSON only.`

const firstContactPrompt = `Write a cold outreach email as a friendly founder of %s.
Use a warm, personal tone. Return the body as HTML using <p>, <strong>, <em>, <ul> and <li>.

Structure:
1. Greet the lead by name.
2. Introduce yourself and your role at %s.
3. Explain what the company does in 2 or 3 sentences.
4. Give a short "how it works" list.
5. Invite the lead to reply or book a meeting.

Keep it to 80-120 words and avoid marketing fluff.

Lead details:
%s

Return strictly as JSON:
{"subject": string, "body": string}`

const followUpPrompt = `Write a follow-up email (second contact after an initial outreach from %s).
Return the body as HTML using <b>, <i>, <ul> and <li>; emojis are fine in moderation.

Requirements:
1. A short, attention-grabbing subject line.
2. A personalized body of 50-100 words that politely references the earlier email, restates the value clearly, uses a bullet list of benefits, and asks the lead to reply or schedule a meeting.

Lead details:
%s

Return strictly as JSON with no extra text:
{"subject": string, "body": string}`

// renderProfile formats the lead fields shared by every prompt.
func renderProfile(p model.Profile, withEnrichment bool) string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			value = "N/A"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	age := ""
	if p.Age != nil {
		age = strconv.Itoa(*p.Age)
	}
	line("Name", p.Name)
	line("Role", p.Role)
	line("Age", age)
	line("Company", p.Company)
	line("Industry", p.Industry)
	line("Lead Source", p.Source)
	line("Interested In", strings.Join(p.Interests, ", "))
	line("Category", p.Category)
	line("Experience", fmt.Sprintf("%d years", p.Experience))
	line("Location", p.Location)
	if withEnrichment {
		insight := p.Insight
		if insight == "" {
			insight = "No insight available"
		}
		line("Insight", insight)
		line("Lead Score", strconv.Itoa(p.LeadScore))
	}
	return strings.TrimRight(b.String(), "\n")
}
