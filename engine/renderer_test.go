package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func fullContext() RenderContext {
	return RenderContext{
		Lead: models.Lead{
			Email:       "jordan@jordanplumbing.com",
			Name:        "Jordan",
			Company:     "Jordan Plumbing",
			City:        "Austin",
			Rating:      4.8,
			ReviewCount: 132,
			OwnerName:   "Jordan Michaels",
		},
		Profile: models.CompanyProfile{
			CompanyName: "Acme Digital",
			Service:     "web design",
			Industry:    "home services",
			Website:     "https://acme.test",
			Location:    "Texas",
			SenderName:  "Sam",
			SenderEmail: "sam@acme.test",
		},
	}
}

func TestAuthorNamePriorityChain(t *testing.T) {
	lead := models.Lead{
		OwnerName:     "Explicit Owner",
		CompanyOwner:  "Generic Owner",
		ExecutiveName: "Exec",
		Name:          "Lead Name",
	}
	assert.Equal(t, "Explicit Owner", AuthorName(lead))

	lead.OwnerName = ""
	assert.Equal(t, "Generic Owner", AuthorName(lead))

	lead.CompanyOwner = "  "
	assert.Equal(t, "Exec", AuthorName(lead))

	lead.ExecutiveName = ""
	assert.Equal(t, "Lead Name", AuthorName(lead))

	lead.Name = ""
	assert.Equal(t, "Team", AuthorName(lead))
}

func TestRenderLegacyPlaceholderCompleteness(t *testing.T) {
	r := &renderer{}
	tmpl := &models.SequenceTemplate{
		Subject: "{{LEAD_NAME}} at {{COMPANY_NAME}}",
		HTMLContent: "<p>Hi {{LEAD_NAME}}, {{AUTHOR_NAME}} here. I saw {{COMPANY_NAME}} is {{REVIEW_SUMMARY}} " +
			"in {{LOCATION}}. We do {{SERVICE}} for the {{INDUSTRY}} industry at {{OUR_COMPANY}} ({{WEBSITE}}). " +
			"Reach me at {{SENDER_EMAIL}}. -{{SENDER_NAME}}</p>",
	}

	out, err := r.render(context.Background(), tmpl, fullContext())
	require.NoError(t, err)

	assert.NotContains(t, out.Subject, "{{")
	assert.NotContains(t, out.HTMLBody, "{{")
	assert.NotContains(t, out.TextBody, "{{")
	assert.Equal(t, "Jordan at Jordan Plumbing", out.Subject)
	assert.Contains(t, out.HTMLBody, "rated 4.8 stars across 132 reviews")
	assert.Contains(t, out.HTMLBody, "Jordan Michaels")
}

func TestRenderLegacyDerivesTextFromHTML(t *testing.T) {
	r := &renderer{}
	tmpl := &models.SequenceTemplate{
		Subject:     "Hello",
		HTMLContent: "<p>Hi {{LEAD_NAME}},</p><p>Short note.</p>",
	}

	out, err := r.render(context.Background(), tmpl, fullContext())
	require.NoError(t, err)
	assert.Contains(t, out.TextBody, "Hi Jordan,")
	assert.NotContains(t, out.TextBody, "<p>")
}

func TestRenderRejectsUnresolvedToken(t *testing.T) {
	r := &renderer{}
	tmpl := &models.SequenceTemplate{
		Subject:     "Hello",
		HTMLContent: "<p>Hi {{LEAD_NAME}}, your code is {{DISCOUNT_CODE}}.</p>",
	}

	_, err := r.render(context.Background(), tmpl, fullContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISCOUNT_CODE")
}

func TestRenderDefaultsForSparseLead(t *testing.T) {
	r := &renderer{}
	tmpl := &models.SequenceTemplate{
		Subject:     "For {{COMPANY_NAME}}",
		HTMLContent: "<p>Hi {{LEAD_NAME}} in {{LOCATION}}, {{REVIEW_SUMMARY}}. -{{SENDER_NAME}}</p>",
	}

	out, err := r.render(context.Background(), tmpl, RenderContext{Lead: models.Lead{Email: "x@y.com"}})
	require.NoError(t, err)
	assert.Equal(t, "For your business", out.Subject)
	assert.Contains(t, out.HTMLBody, "Hi there")
	assert.Contains(t, out.HTMLBody, "The Team")
}

func TestRenderModularSplicesFragment(t *testing.T) {
	fragment := "<p>We noticed Jordan Plumbing has a strong local reputation and wanted to reach out directly.</p>"
	gen := &fakeGenerator{output: fragment}
	r := &renderer{generator: gen}

	tmpl := &models.SequenceTemplate{
		Subject:       "{{LEAD_NAME}}, quick idea",
		ContentPrompt: "Write a short intro email.",
		HTMLDesign:    "<html><body><div class=\"wrap\">{{EMAIL_CONTENT}}</div>{{SIGNATURE}}</body></html>",
		Signature:     "<p>{{SENDER_NAME}}<br>{{OUR_COMPANY}}</p>",
	}

	out, err := r.render(context.Background(), tmpl, fullContext())
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, out.HTMLBody, "<div class=\"wrap\">"+fragment)
	assert.Contains(t, out.HTMLBody, "Sam<br>Acme Digital")
	assert.NotContains(t, out.HTMLBody, "{{")
	assert.Contains(t, out.TextBody, "strong local reputation")
}

func TestRenderModularUsesDefaultWrapperWithoutSkeleton(t *testing.T) {
	fragment := strings.Repeat("Relevant, warm outreach copy. ", 4)
	gen := &fakeGenerator{output: fragment}
	r := &renderer{generator: gen}

	tmpl := &models.SequenceTemplate{
		Subject:       "Hello",
		ContentPrompt: "Write a short intro email.",
	}

	out, err := r.render(context.Background(), tmpl, fullContext())
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, "<!DOCTYPE html>")
	assert.Contains(t, out.HTMLBody, strings.TrimSpace(fragment))
}

func TestRenderModularFailsClosed(t *testing.T) {
	tmpl := &models.SequenceTemplate{
		Subject:       "Hello",
		ContentPrompt: "Write a short intro email.",
	}

	// Generator error
	r := &renderer{generator: &fakeGenerator{err: ErrEmptyGeneration}}
	_, err := r.render(context.Background(), tmpl, fullContext())
	assert.Error(t, err)

	// Too-short output
	r = &renderer{generator: &fakeGenerator{output: "ok"}}
	_, err = r.render(context.Background(), tmpl, fullContext())
	assert.ErrorIs(t, err, ErrEmptyGeneration)
}

func TestRenderModularMediaLinks(t *testing.T) {
	fragment := "<p>We noticed Jordan Plumbing has a strong local reputation and wanted to say hello.</p>"
	r := &renderer{generator: &fakeGenerator{output: fragment}}

	tmpl := &models.SequenceTemplate{
		Subject:       "Hello",
		ContentPrompt: "Write a short intro email.",
		MediaLinks:    "https://acme.test/case-study\nhttps://acme.test/portfolio",
	}

	out, err := r.render(context.Background(), tmpl, fullContext())
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, `href="https://acme.test/case-study"`)
	assert.Contains(t, out.HTMLBody, `href="https://acme.test/portfolio"`)
}
