// Package formatter wraps an already-generated draft body in the
// locale-appropriate greeting, signature, and AI disclaimer, and appends the
// order/PO/ticket reference block (§4.5). It never calls the LLM and never
// decides whether a draft should be sent — it only renders one that was.
package formatter

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/dropshiptriage/triage/internal/config"
	"github.com/dropshiptriage/triage/internal/models"
)

// greetings is the fixed per-locale opener, keyed by base language code so
// region variants (de-AT, de-CH, ...) still resolve.
var greetings = map[string]string{
	"en": "Hello",
	"de": "Hallo",
	"fr": "Bonjour",
	"es": "Hola",
	"it": "Buongiorno",
	"nl": "Hallo",
}

// Formatter renders outbound customer-facing message bodies.
type Formatter struct {
	cfg *config.Config
}

// New constructs a Formatter bound to cfg's signature lines and disclaimer
// table.
func New(cfg *config.Config) *Formatter {
	return &Formatter{cfg: cfg}
}

// Input is everything Format needs beyond configuration: the draft body, its
// locale, and the ticket reference fields to render in the closing block.
type Input struct {
	Lang                language.Tag
	Draft               models.DraftResult
	TicketNumber        string
	OrderNumber         *string
	PurchaseOrderNumber *string
}

// Format renders a customer-facing body. Callers must not call Format for a
// NO_DRAFT result — that draft was withheld and has nothing to render; the
// pipeline records its reason on the AIDecision instead.
func (f *Formatter) Format(in Input) string {
	var sb strings.Builder

	sb.WriteString(f.greeting(in.Lang))
	sb.WriteString(",\n\n")
	sb.WriteString(strings.TrimSpace(in.Draft.Body))
	sb.WriteString("\n\n")

	if ref := referenceBlock(in.TicketNumber, in.OrderNumber, in.PurchaseOrderNumber); ref != "" {
		sb.WriteString(ref)
		sb.WriteString("\n\n")
	}

	sb.WriteString(f.disclaimer(in.Lang))
	sb.WriteString("\n\n")
	for _, line := range f.cfg.SignatureLines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) greeting(lang language.Tag) string {
	base, _ := lang.Base()
	if g, ok := greetings[base.String()]; ok {
		return g
	}
	return greetings["en"]
}

func (f *Formatter) disclaimer(lang language.Tag) string {
	base, _ := lang.Base()
	return f.cfg.Disclaimer(base.String())
}

func referenceBlock(ticketNumber string, orderNumber, poNumber *string) string {
	var lines []string
	if ticketNumber != "" {
		lines = append(lines, "Ticket: "+ticketNumber)
	}
	if orderNumber != nil && *orderNumber != "" {
		lines = append(lines, "Order: "+*orderNumber)
	}
	if poNumber != nil && *poNumber != "" {
		lines = append(lines, "PO: "+*poNumber)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
