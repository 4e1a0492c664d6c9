package reports

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/searchconsole"
)

// InvoiceSummary aggregates a workspace's invoices.
type InvoiceSummary struct {
	Count          int
	Cancelled      int
	Paid           int
	Total          float64
	Outstanding    float64
	Overdue        int
	OverdueBalance float64
	Currency       string
	TopOverdue     []*models.Invoice
}

// SummarizeInvoices computes an InvoiceSummary as of now.
func SummarizeInvoices(invoices []*models.Invoice, now time.Time) InvoiceSummary {
	s := InvoiceSummary{Currency: "SEK"}
	for _, inv := range invoices {
		if inv.Currency != "" && s.Count == 0 {
			s.Currency = inv.Currency
		}
		s.Count++
		if inv.Cancelled {
			s.Cancelled++
			continue
		}
		s.Total += inv.Total
		s.Outstanding += inv.Balance
		if inv.Paid() {
			s.Paid++
		}
		if inv.Overdue(now) {
			s.Overdue++
			s.OverdueBalance += inv.Balance
			s.TopOverdue = append(s.TopOverdue, inv)
		}
	}
	sort.SliceStable(s.TopOverdue, func(i, j int) bool {
		return s.TopOverdue[i].Balance > s.TopOverdue[j].Balance
	})
	if len(s.TopOverdue) > 5 {
		s.TopOverdue = s.TopOverdue[:5]
	}
	return s
}

func renderInvoiceSummary(job *models.CronJob, s InvoiceSummary, now time.Time) Message {
	subject := fmt.Sprintf("Invoice summary %s", now.Format("2006-01-02"))

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", subject)
	fmt.Fprintf(&text, "Invoices: %d (%d paid, %d cancelled)\n", s.Count, s.Paid, s.Cancelled)
	fmt.Fprintf(&text, "Invoiced: %s\n", money(s.Total, s.Currency))
	fmt.Fprintf(&text, "Outstanding: %s\n", money(s.Outstanding, s.Currency))
	fmt.Fprintf(&text, "Overdue: %d invoices, %s\n", s.Overdue, money(s.OverdueBalance, s.Currency))
	for _, inv := range s.TopOverdue {
		fmt.Fprintf(&text, "  #%s %s due %s: %s\n", inv.DocumentNumber, inv.CustomerName, inv.DueDate, money(inv.Balance, s.Currency))
	}

	var h strings.Builder
	fmt.Fprintf(&h, "<h2>%s</h2><table>", html.EscapeString(subject))
	row := func(k, v string) {
		fmt.Fprintf(&h, "<tr><th align=\"left\">%s</th><td>%s</td></tr>", html.EscapeString(k), html.EscapeString(v))
	}
	row("Invoices", fmt.Sprintf("%d (%d paid, %d cancelled)", s.Count, s.Paid, s.Cancelled))
	row("Invoiced", money(s.Total, s.Currency))
	row("Outstanding", money(s.Outstanding, s.Currency))
	row("Overdue", fmt.Sprintf("%d invoices, %s", s.Overdue, money(s.OverdueBalance, s.Currency)))
	h.WriteString("</table>")
	if len(s.TopOverdue) > 0 {
		h.WriteString("<h3>Largest overdue</h3><ul>")
		for _, inv := range s.TopOverdue {
			fmt.Fprintf(&h, "<li>#%s %s, due %s: %s</li>",
				html.EscapeString(inv.DocumentNumber), html.EscapeString(inv.CustomerName),
				html.EscapeString(inv.DueDate), html.EscapeString(money(inv.Balance, s.Currency)))
		}
		h.WriteString("</ul>")
	}

	return Message{To: job.Recipients, Subject: subject, Text: text.String(), HTML: h.String()}
}

func renderSearchConsole(job *models.CronJob, site string, from, to time.Time, rows []models.SearchAnalyticsRow) Message {
	subject := fmt.Sprintf("Search performance %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	tot := searchconsole.Totals(rows)

	var text strings.Builder
	fmt.Fprintf(&text, "%s\nSite: %s\n\n", subject, site)
	fmt.Fprintf(&text, "Clicks: %.0f\nImpressions: %.0f\nCTR: %.1f%%\nAverage position: %.1f\n",
		tot.Clicks, tot.Impressions, tot.CTR*100, tot.Position)
	if len(rows) > 0 {
		text.WriteString("\nTop queries:\n")
	}

	var h strings.Builder
	fmt.Fprintf(&h, "<h2>%s</h2><p>%s</p>", html.EscapeString(subject), html.EscapeString(site))
	fmt.Fprintf(&h, "<p>Clicks %.0f, impressions %.0f, CTR %.1f%%, position %.1f</p>",
		tot.Clicks, tot.Impressions, tot.CTR*100, tot.Position)
	if len(rows) > 0 {
		h.WriteString("<table><tr><th>Query</th><th>Clicks</th><th>Impressions</th><th>Position</th></tr>")
	}
	for _, r := range rows {
		key := strings.Join(r.Keys, " / ")
		fmt.Fprintf(&text, "  %s: %.0f clicks, %.0f impressions, pos %.1f\n", key, r.Clicks, r.Impressions, r.Position)
		fmt.Fprintf(&h, "<tr><td>%s</td><td>%.0f</td><td>%.0f</td><td>%.1f</td></tr>",
			html.EscapeString(key), r.Clicks, r.Impressions, r.Position)
	}
	if len(rows) > 0 {
		h.WriteString("</table>")
	}

	return Message{To: job.Recipients, Subject: subject, Text: text.String(), HTML: h.String()}
}

func money(v float64, currency string) string {
	return fmt.Sprintf("%.2f %s", v, currency)
}
