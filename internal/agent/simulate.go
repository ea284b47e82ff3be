package agent

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf8"
)

const excerptChars = 120

// Simulate builds the placeholder response used when a webhook cannot be
// reached. The output depends only on the agent id and the input text.
func Simulate(agentID, input string) string {
	ref := simulationRef(agentID, input)
	subject := excerpt(input)
	if subject == "" {
		subject = "the provided input"
	}

	var b strings.Builder
	switch agentID {
	case "user-stories":
		fmt.Fprintf(&b, "# User Stories\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("- As a user, I want to sign in with my email so that I can access my workspace.\n")
		b.WriteString("- As a user, I want to reset my password so that I can recover my account.\n")
		b.WriteString("- As an administrator, I want to manage team members so that access stays current.\n")
	case "acceptance-criteria":
		fmt.Fprintf(&b, "# Acceptance Criteria\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("## Scenario: successful sign in\n\n")
		b.WriteString("1. **Given** a registered user\n2. **When** valid credentials are submitted\n3. **Then** the dashboard is shown\n\n")
		b.WriteString("## Scenario: invalid password\n\n")
		b.WriteString("1. **Given** a registered user\n2. **When** a wrong password is submitted\n3. **Then** an error message is shown\n")
	case "test-cases":
		fmt.Fprintf(&b, "# Test Cases\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("| ID | Title | Steps | Expected Result |\n")
		b.WriteString("|----|-------|-------|-----------------|\n")
		b.WriteString("| TC-001 | Valid sign in | 1. Open login<br>2. Enter valid credentials | Dashboard is shown |\n")
		b.WriteString("| TC-002 | Invalid password | 1. Open login<br>2. Enter wrong password | Error message is shown |\n")
		b.WriteString("| TC-003 | Password reset | 1. Click reset link<br>2. Submit email | Reset email is sent |\n")
	case "test-scripts":
		fmt.Fprintf(&b, "# Test Scripts\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("```gherkin\nFeature: Sign in\n  Scenario: Valid sign in\n    Given I am on the login page\n    When I enter valid credentials\n    Then I see the dashboard\n```\n")
	case "bug-report":
		fmt.Fprintf(&b, "# Bug Report\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("## Summary\n\nLogin form accepts empty password.\n\n")
		b.WriteString("## Steps to Reproduce\n\n1. Open the login page\n2. Leave the password empty\n3. Submit\n\n")
		b.WriteString("## Expected\n\nA validation error is shown.\n\n## Actual\n\nThe request is sent to the server.\n")
	case "synthetic-data":
		fmt.Fprintf(&b, "# Synthetic Data\n\n_Simulated response %s for: %s_\n\n", ref, subject)
		b.WriteString("| name | email | country |\n|------|-------|---------|\n")
		b.WriteString("| Ada Park | ada.park@example.com | NZ |\n")
		b.WriteString("| Jon Ruiz | jon.ruiz@example.com | ES |\n")
	default:
		fmt.Fprintf(&b, "Simulated response %s from %s for: %s\n", ref, agentID, subject)
	}
	return b.String()
}

func simulationRef(agentID, input string) string {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(input))
	return fmt.Sprintf("SIM-%08x", h.Sum32())
}

// excerpt returns the first line of s, capped at excerptChars runes.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if utf8.RuneCountInString(s) <= excerptChars {
		return s
	}
	r := []rune(s)
	return string(r[:excerptChars]) + "..."
}
