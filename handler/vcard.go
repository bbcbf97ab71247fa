package handler

import (
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

const vcardFileName = "carmen.vcf"

// ContactCard is the agent's downloadable contact, so people can save the
// SMS number under a name.
type ContactCard struct {
	Name         string
	Organization string
	Phone        string
	PhotoURL     string
	Street       string
	City         string
	Region       string
	PostalCode   string
}

// WithContactCard serves card at GET /vcard.
func WithContactCard(card ContactCard) Option {
	return func(h *Handler) {
		h.card = &card
	}
}

// Format renders the card as vCard 3.0 with CRLF line endings.
func (c ContactCard) Format() string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(s)
		b.WriteString("\r\n")
	}

	line("BEGIN:VCARD")
	line("VERSION:3.0")
	line("FN:" + escapeVCard(c.Name))
	line("N:;" + escapeVCard(c.Name) + ";;;")
	if c.Organization != "" {
		line("ORG:" + escapeVCard(c.Organization))
	}
	if c.PhotoURL != "" {
		line("PHOTO;VALUE=URI:" + c.PhotoURL)
	}
	if c.Phone != "" {
		line("TEL;TYPE=WORK,VOICE:" + escapeVCard(c.Phone))
	}
	if c.Street != "" || c.City != "" || c.Region != "" || c.PostalCode != "" {
		line("ADR;TYPE=WORK:;;" + strings.Join([]string{
			escapeVCard(c.Street),
			escapeVCard(c.City),
			escapeVCard(c.Region),
			escapeVCard(c.PostalCode),
		}, ";") + ";")
	}
	line("END:VCARD")
	return b.String()
}

var vcardEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\r\n", `\n`, "\n", `\n`)

func escapeVCard(s string) string {
	return vcardEscaper.Replace(strings.TrimSpace(s))
}

func (h *Handler) handleVCard() events.APIGatewayProxyResponse {
	if h.card == nil || strings.TrimSpace(h.card.Name) == "" {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "no contact card"})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        `text/vcard; name="` + vcardFileName + `"`,
			"Content-Disposition": `inline; filename="` + vcardFileName + `"`,
		},
		Body: h.card.Format(),
	}
}
