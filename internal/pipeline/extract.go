package pipeline

import "regexp"

// orderNumberPatterns covers the subject/body conventions observed across
// storefronts: "Order #12345", "Order No. 12345", "Order ORD-1234", or a
// bare "ORD-12345". A purely numeric id is only recognized when the word
// "order" precedes it.
var orderNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)order\s*(?:#|no\.?|number)?\s*[:#]?\s*(ORD-?\d{4,})`),
	regexp.MustCompile(`(?i)order\s*(?:#|no\.?|number)?\s*[:#]?\s*(\d{5,})`),
	regexp.MustCompile(`\b(ORD-\d{4,})\b`),
}

var ticketNumberPattern = regexp.MustCompile(`(?i)\b(TCK-\d{4,})\b`)

var purchaseOrderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bPO[\s#:-]*(\d{4,})\b`),
	regexp.MustCompile(`\b(PO-\d{4,})\b`),
}

// Extracted holds the correlation hints parsed out of an inbound message's
// subject and body (spec.md §4.6 step 2).
type Extracted struct {
	OrderNumber         string
	TicketNumber        string
	PurchaseOrderNumber string
}

// extract scans subject and body for order/ticket/PO references as one
// text, subject first. Patterns are tried in list order, and the first
// pattern that matches anywhere wins, so an earlier pattern's match in the
// body takes precedence over a later pattern's match in the subject.
func extract(subject, body string) Extracted {
	text := subject + "\n" + body
	return Extracted{
		OrderNumber:         firstMatch(orderNumberPatterns, text),
		TicketNumber:        firstMatchOne(ticketNumberPattern, text),
		PurchaseOrderNumber: firstMatch(purchaseOrderPatterns, text),
	}
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if m := firstMatchOne(p, text); m != "" {
			return m
		}
	}
	return ""
}

func firstMatchOne(p *regexp.Regexp, text string) string {
	m := p.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}
