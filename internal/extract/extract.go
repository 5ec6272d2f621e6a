// Package extract turns a parsed results page into structured result fields.
// Every method is best-effort: a selector that does not match yields nil or
// an empty slice, never an error.
package extract

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/PuerkitoBio/goquery"
)

// Extractor reads result fields from a results page.
type Extractor interface {
	TotalResults(doc *goquery.Document) *int64
	RelatedQueries(doc *goquery.Document, host string) []serp.RelatedQuery
	PaidResults(doc *goquery.Document) []serp.PaidResult
	PaidProducts(doc *goquery.Document) []serp.PaidProduct
	OrganicResults(doc *goquery.Document) []serp.OrganicResult
	NextPageLink(doc *goquery.Document) string
}

// ForDevice returns the extractor matching the rendering of the page.
func ForDevice(d serp.Device) Extractor {
	if d == serp.DeviceMobile {
		return &selectorExtractor{sel: mobileSelectors}
	}
	return &selectorExtractor{sel: desktopSelectors}
}

// selectors lists the CSS selectors of one page rendering. Comma-separated
// alternatives cover older and newer markup.
type selectors struct {
	totalResults string

	organic             string
	organicTitle        string
	organicLink         string
	organicDisplayedURL string
	organicDescription  string

	paid             string
	paidTitle        string
	paidLink         string
	paidDisplayedURL string
	paidDescription  string

	product             string
	productTitle        string
	productLink         string
	productDisplayedURL string
	productPrice        string

	related  string
	nextPage string
}

var desktopSelectors = selectors{
	totalResults: "#result-stats, #resultStats",

	organic:             "#search .g, #rso .g",
	organicTitle:        "h3",
	organicLink:         "a:has(h3), .r a, .yuRUbf a",
	organicDisplayedURL: "cite",
	organicDescription:  ".VwiC3b, .IsZvec, .st, [data-sncf]",

	paid:             "#tads .uEierd, #tads .ads-ad, #tadsb .ads-ad, #bottomads .uEierd",
	paidTitle:        "[role='heading'], h3",
	paidLink:         "a",
	paidDisplayedURL: ".x2VHCd, .Zu0yb, .ads-visurl cite, cite",
	paidDescription:  ".MUxGbd:not([role='heading']), .ads-creative, .yDYNvb",

	product:             ".commercial-unit-desktop-top .pla-unit, .cu-container .pla-unit, .mnr-c.pla-unit",
	productTitle:        ".pla-unit-title span, .pymv4e, .rhsl4",
	productLink:         "a.pla-unit-title-link, a.clickable-card, a",
	productDisplayedURL: ".LbUacb span, .zPEcBd, ._mC",
	productPrice:        ".e10twf, .T4OwTb span, ._pvi",

	related:  "#brs a, #bres a, .k8XOCe a, a.k8XOCe",
	nextPage: "#pnnext, a[aria-label='Next page']",
}

var mobileSelectors = selectors{
	totalResults: "#result-stats, #resultStats",

	organic:             "#rso .xpd, #rso .mnr-c:not(.pla-unit), .srg .g",
	organicTitle:        "[role='heading'], h3, .MUxGbd.v0nnCb",
	organicLink:         "a:has([role='heading']), a:has(h3), a",
	organicDisplayedURL: ".qzEoUe, cite, .UPmit",
	organicDescription:  ".yDYNvb, .VwiC3b, .s3v9rd, .st",

	paid:             "#tads .uEierd, #tads .mnr-c, #tadsb .mnr-c",
	paidTitle:        "[role='heading'], h3",
	paidLink:         "a",
	paidDisplayedURL: ".x2VHCd, .qzEoUe, cite",
	paidDescription:  ".MUxGbd:not([role='heading']), .yDYNvb",

	product:             ".pla-unit, .shopping-carousel-container .pla-unit",
	productTitle:        ".pla-unit-title span, .pymv4e, .rhsl4",
	productLink:         "a.pla-unit-title-link, a",
	productDisplayedURL: ".LbUacb span, .zPEcBd",
	productPrice:        ".e10twf, .T4OwTb span",

	related:  "#brs a, #bres a, .k8XOCe a, a.k8XOCe",
	nextPage: "#pnnext, a[aria-label='Next page'], a[aria-label='More results']",
}

type selectorExtractor struct {
	sel selectors
}

func (e *selectorExtractor) TotalResults(doc *goquery.Document) *int64 {
	text := doc.Find(e.sel.totalResults).First().Text()
	return parseTotal(text)
}

func (e *selectorExtractor) RelatedQueries(doc *goquery.Document, host string) []serp.RelatedQuery {
	var base *url.URL
	if host != "" {
		base = &url.URL{Scheme: "http", Host: host, Path: "/"}
	}

	related := []serp.RelatedQuery{}
	doc.Find(e.sel.related).Each(func(i int, s *goquery.Selection) {
		title := cleanText(s.Text())
		href, _ := s.Attr("href")
		if title == "" || href == "" {
			return
		}
		related = append(related, serp.RelatedQuery{
			Title: title,
			URL:   resolve(base, href),
		})
	})
	return related
}

func (e *selectorExtractor) PaidResults(doc *goquery.Document) []serp.PaidResult {
	paid := []serp.PaidResult{}
	doc.Find(e.sel.paid).Each(func(i int, s *goquery.Selection) {
		title := cleanText(s.Find(e.sel.paidTitle).First().Text())
		href, _ := s.Find(e.sel.paidLink).First().Attr("href")
		if title == "" || href == "" {
			return
		}
		paid = append(paid, serp.PaidResult{
			Position:     len(paid) + 1,
			Title:        title,
			URL:          href,
			DisplayedURL: cleanText(s.Find(e.sel.paidDisplayedURL).First().Text()),
			Description:  cleanText(s.Find(e.sel.paidDescription).First().Text()),
		})
	})
	return paid
}

func (e *selectorExtractor) PaidProducts(doc *goquery.Document) []serp.PaidProduct {
	products := []serp.PaidProduct{}
	doc.Find(e.sel.product).Each(func(i int, s *goquery.Selection) {
		title := cleanText(s.Find(e.sel.productTitle).First().Text())
		href, _ := s.Find(e.sel.productLink).First().Attr("href")
		if title == "" || href == "" {
			return
		}
		prices := []string{}
		s.Find(e.sel.productPrice).Each(func(_ int, p *goquery.Selection) {
			if price := cleanText(p.Text()); price != "" {
				prices = append(prices, price)
			}
		})
		products = append(products, serp.PaidProduct{
			Position:     len(products) + 1,
			Title:        title,
			URL:          href,
			DisplayedURL: cleanText(s.Find(e.sel.productDisplayedURL).First().Text()),
			Prices:       prices,
		})
	})
	return products
}

func (e *selectorExtractor) OrganicResults(doc *goquery.Document) []serp.OrganicResult {
	organic := []serp.OrganicResult{}
	seen := make(map[string]struct{})
	doc.Find(e.sel.organic).Each(func(i int, s *goquery.Selection) {
		// nested .g blocks would otherwise be counted twice
		if s.ParentsFiltered(e.sel.organic).Length() > 0 {
			return
		}
		title := cleanText(s.Find(e.sel.organicTitle).First().Text())
		href, _ := s.Find(e.sel.organicLink).First().Attr("href")
		href = unwrapRedirect(href)
		if title == "" || href == "" {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		organic = append(organic, serp.OrganicResult{
			Position:     len(organic) + 1,
			Title:        title,
			URL:          href,
			DisplayedURL: cleanText(s.Find(e.sel.organicDisplayedURL).First().Text()),
			Description:  cleanText(s.Find(e.sel.organicDescription).First().Text()),
		})
	})
	return organic
}

func (e *selectorExtractor) NextPageLink(doc *goquery.Document) string {
	href, _ := doc.Find(e.sel.nextPage).First().Attr("href")
	return strings.TrimSpace(href)
}

// parseTotal reads "About 1,230,000 results (0.42 seconds)" style counters.
func parseTotal(text string) *int64 {
	if i := strings.Index(text, "("); i >= 0 {
		text = text[:i]
	}
	var digits strings.Builder
	for _, r := range text {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return nil
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// unwrapRedirect returns the target of "/url?q=..." links.
func unwrapRedirect(href string) string {
	if !strings.HasPrefix(href, "/url?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	for _, key := range []string{"q", "url"} {
		if target := u.Query().Get(key); target != "" {
			return target
		}
	}
	return href
}

func resolve(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
