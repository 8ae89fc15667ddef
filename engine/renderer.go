package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"leadflow/models"
)

// contentMarker is the insertion point for the AI fragment inside an
// owner-supplied HTML design skeleton.
const contentMarker = "{{EMAIL_CONTENT}}"

// minGeneratedLength is the floor below which AI output is treated as a
// generation failure rather than sendable content.
const minGeneratedLength = 40

var tokenPattern = regexp.MustCompile(`\{\{[A-Za-z0-9_]+\}\}`)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

const defaultHTMLWrapper = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
` + contentMarker + `
</body>
</html>`

// RenderContext carries everything placeholder substitution can draw from.
type RenderContext struct {
	Lead    models.Lead
	Profile models.CompanyProfile
	Sender  *models.Sender
}

// RenderedEmail is the transport-ready output of a template render.
type RenderedEmail struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// renderer turns a resolved template plus lead/owner context into a
// transport-ready email. Legacy templates are pure placeholder
// substitution; modular templates go through the AI generator and fail
// closed when it does.
type renderer struct {
	generator ContentGenerator
}

// AuthorName resolves the owner/author display name for a lead through the
// fixed priority chain: authored owner, generic company owner, executive,
// lead name, then the literal "Team".
func AuthorName(lead models.Lead) string {
	for _, candidate := range []string{lead.OwnerName, lead.CompanyOwner, lead.ExecutiveName, lead.Name} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}
	return "Team"
}

// reviewSummary formats the lead's rating data into a short phrase. It
// always produces text so the token never renders empty.
func reviewSummary(lead models.Lead) string {
	if lead.ReviewCount > 0 {
		return fmt.Sprintf("rated %.1f stars across %d reviews", lead.Rating, lead.ReviewCount)
	}
	return "building a reputation with local customers"
}

// buildVars assembles the fixed substitution set. Every token has a
// non-empty value, so a fully-populated context can never leave an
// unresolved placeholder behind.
func buildVars(rc RenderContext) map[string]string {
	senderName := rc.Profile.SenderName
	senderEmail := rc.Profile.SenderEmail
	if rc.Sender != nil {
		if rc.Sender.FromName != "" {
			senderName = rc.Sender.FromName
		}
		if rc.Sender.FromEmail != "" {
			senderEmail = rc.Sender.FromEmail
		}
	}
	if senderName == "" {
		senderName = "The Team"
	}
	if senderEmail == "" {
		senderEmail = "hello@example.com"
	}

	location := rc.Lead.City
	if location == "" {
		location = rc.Profile.Location
	}
	if location == "" {
		location = "your area"
	}

	leadName := strings.TrimSpace(rc.Lead.Name)
	if leadName == "" {
		leadName = "there"
	}
	leadCompany := strings.TrimSpace(rc.Lead.Company)
	if leadCompany == "" {
		leadCompany = "your business"
	}

	return map[string]string{
		"LEAD_NAME":      leadName,
		"COMPANY_NAME":   leadCompany,
		"AUTHOR_NAME":    AuthorName(rc.Lead),
		"REVIEW_SUMMARY": reviewSummary(rc.Lead),
		"LOCATION":       location,
		"SENDER_NAME":    senderName,
		"SENDER_EMAIL":   senderEmail,
		"SERVICE":        rc.Profile.Service,
		"INDUSTRY":       rc.Profile.Industry,
		"WEBSITE":        rc.Profile.Website,
		"OUR_COMPANY":    rc.Profile.CompanyName,
	}
}

func substitute(text string, vars map[string]string) string {
	for token, value := range vars {
		text = strings.ReplaceAll(text, "{{"+token+"}}", value)
	}
	return text
}

// checkResolved rejects output that still carries a {{TOKEN}} so a broken
// template can never reach the transport.
func checkResolved(parts ...string) error {
	for _, part := range parts {
		if match := tokenPattern.FindString(part); match != "" {
			return fmt.Errorf("unresolved placeholder %s in rendered output", match)
		}
	}
	return nil
}

func htmlToText(html string) string {
	text := strings.ReplaceAll(html, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = htmlTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// render produces the transport-ready email for one template and lead.
func (r *renderer) render(ctx context.Context, tmpl *models.SequenceTemplate, rc RenderContext) (*RenderedEmail, error) {
	vars := buildVars(rc)

	if !tmpl.IsModular() {
		return r.renderLegacy(tmpl, vars)
	}
	return r.renderModular(ctx, tmpl, rc, vars)
}

func (r *renderer) renderLegacy(tmpl *models.SequenceTemplate, vars map[string]string) (*RenderedEmail, error) {
	out := &RenderedEmail{
		Subject:  substitute(tmpl.Subject, vars),
		HTMLBody: substitute(tmpl.HTMLContent, vars),
		TextBody: substitute(tmpl.TextContent, vars),
	}
	if out.TextBody == "" {
		out.TextBody = htmlToText(out.HTMLBody)
	}
	if err := checkResolved(out.Subject, out.HTMLBody, out.TextBody); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *renderer) renderModular(ctx context.Context, tmpl *models.SequenceTemplate, rc RenderContext, vars map[string]string) (*RenderedEmail, error) {
	if r.generator == nil {
		return nil, fmt.Errorf("modular template requires a content generator: %w", ErrEmptyGeneration)
	}

	fragment, err := r.generator.Generate(ctx, GenerationRequest{
		Instruction: tmpl.ContentPrompt,
		Context: map[string]string{
			"lead_name":      vars["LEAD_NAME"],
			"lead_company":   vars["COMPANY_NAME"],
			"author_name":    vars["AUTHOR_NAME"],
			"review_summary": vars["REVIEW_SUMMARY"],
			"location":       vars["LOCATION"],
			"our_company":    vars["OUR_COMPANY"],
			"service":        vars["SERVICE"],
			"industry":       vars["INDUSTRY"],
			"website":        vars["WEBSITE"],
		},
		Skeleton: tmpl.HTMLDesign,
	})
	if err != nil {
		return nil, fmt.Errorf("content generation failed: %w", err)
	}
	if len(strings.TrimSpace(fragment)) < minGeneratedLength {
		return nil, ErrEmptyGeneration
	}

	skeleton := tmpl.HTMLDesign
	if !strings.Contains(skeleton, contentMarker) {
		skeleton = defaultHTMLWrapper
	}
	html := strings.Replace(skeleton, contentMarker, fragment, 1)

	if tmpl.Signature != "" {
		signature := substitute(tmpl.Signature, vars)
		if strings.Contains(html, "{{SIGNATURE}}") {
			html = strings.Replace(html, "{{SIGNATURE}}", signature, 1)
		} else {
			html = strings.Replace(html, "</body>", "<div style=\"margin-top:20px;\">"+signature+"</div></body>", 1)
		}
	} else {
		html = strings.Replace(html, "{{SIGNATURE}}", "", 1)
	}

	if tmpl.MediaLinks != "" {
		linkHTML := renderMediaLinks(tmpl.MediaLinks)
		if strings.Contains(html, "{{MEDIA_LINKS}}") {
			html = strings.Replace(html, "{{MEDIA_LINKS}}", linkHTML, 1)
		} else {
			html = strings.Replace(html, "</body>", linkHTML+"</body>", 1)
		}
	} else {
		html = strings.Replace(html, "{{MEDIA_LINKS}}", "", 1)
	}

	out := &RenderedEmail{
		Subject:  substitute(tmpl.Subject, vars),
		HTMLBody: substitute(html, vars),
	}
	out.TextBody = htmlToText(substitute(fragment, vars))
	if tmpl.Signature != "" {
		out.TextBody += "\n\n" + htmlToText(substitute(tmpl.Signature, vars))
	}

	if err := checkResolved(out.Subject, out.HTMLBody, out.TextBody); err != nil {
		return nil, err
	}
	return out, nil
}

// renderMediaLinks turns the newline-separated link list into an HTML block.
func renderMediaLinks(links string) string {
	var b strings.Builder
	b.WriteString(`<div style="margin-top:16px;">`)
	for _, line := range strings.Split(links, "\n") {
		link := strings.TrimSpace(line)
		if link == "" {
			continue
		}
		fmt.Fprintf(&b, `<a href="%s" style="display:block;color:#3498db;">%s</a>`, link, link)
	}
	b.WriteString("</div>")
	return b.String()
}
