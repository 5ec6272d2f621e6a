package serp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultDomain is used for terms when no search domain is configured.
	DefaultDomain = "google.com"
	// DefaultCountryCode is reported for search domains missing from the table.
	DefaultCountryCode = "US"
	// DefaultResultsPerPage is what the engine serves when num is absent.
	DefaultResultsPerPage = 10
	// QueryTypeSearch is the only query type produced.
	QueryTypeSearch = "SEARCH"
)

// domainCountry maps a search domain (without "www.") to the country it serves.
var domainCountry = map[string]string{
	"google.com":     "US",
	"google.ad":      "AD",
	"google.ae":      "AE",
	"google.com.af":  "AF",
	"google.com.ar":  "AR",
	"google.at":      "AT",
	"google.com.au":  "AU",
	"google.be":      "BE",
	"google.bg":      "BG",
	"google.com.br":  "BR",
	"google.ca":      "CA",
	"google.ch":      "CH",
	"google.cl":      "CL",
	"google.cn":      "CN",
	"google.com.co":  "CO",
	"google.cz":      "CZ",
	"google.de":      "DE",
	"google.dk":      "DK",
	"google.com.eg":  "EG",
	"google.es":      "ES",
	"google.fi":      "FI",
	"google.fr":      "FR",
	"google.co.uk":   "GB",
	"google.gr":      "GR",
	"google.com.hk":  "HK",
	"google.hr":      "HR",
	"google.hu":      "HU",
	"google.co.id":   "ID",
	"google.ie":      "IE",
	"google.co.il":   "IL",
	"google.co.in":   "IN",
	"google.is":      "IS",
	"google.it":      "IT",
	"google.co.jp":   "JP",
	"google.co.kr":   "KR",
	"google.lt":      "LT",
	"google.lu":      "LU",
	"google.lv":      "LV",
	"google.com.mx":  "MX",
	"google.com.my":  "MY",
	"google.com.ng":  "NG",
	"google.nl":      "NL",
	"google.no":      "NO",
	"google.co.nz":   "NZ",
	"google.com.pe":  "PE",
	"google.com.ph":  "PH",
	"google.com.pk":  "PK",
	"google.pl":      "PL",
	"google.pt":      "PT",
	"google.ro":      "RO",
	"google.rs":      "RS",
	"google.ru":      "RU",
	"google.com.sa":  "SA",
	"google.se":      "SE",
	"google.com.sg":  "SG",
	"google.si":      "SI",
	"google.sk":      "SK",
	"google.co.th":   "TH",
	"google.com.tr":  "TR",
	"google.com.tw":  "TW",
	"google.com.ua":  "UA",
	"google.com.vn":  "VN",
	"google.co.za":   "ZA",
	"google.com.uy":  "UY",
	"google.co.ve":   "VE",
	"google.com.bd":  "BD",
	"google.com.qa":  "QA",
	"google.com.kw":  "KW",
	"google.ee":      "EE",
	"google.ba":      "BA",
	"google.com.cy":  "CY",
	"google.com.mt":  "MT",
	"google.co.ma":   "MA",
	"google.com.do":  "DO",
	"google.com.ec":  "EC",
	"google.com.gt":  "GT",
	"google.co.cr":   "CR",
	"google.com.pa":  "PA",
	"google.com.py":  "PY",
	"google.com.bo":  "BO",
}

// CountryForDomain returns the country code served by a search domain, or def
// when the domain is not known. A leading "www." is ignored.
func CountryForDomain(domain, def string) string {
	d := strings.TrimPrefix(strings.ToLower(domain), "www.")
	if cc, ok := domainCountry[d]; ok {
		return cc
	}
	return def
}

// ParseSearchURL decomposes a results-page URL into a SearchQuery. Missing
// parameters fall back to defaults here so callers never see partial values.
func ParseSearchURL(rawURL string, device Device, pageIndex int, defaultCountry string) (SearchQuery, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return SearchQuery{}, fmt.Errorf("parse search url: %w", err)
	}
	if u.Host == "" {
		return SearchQuery{}, fmt.Errorf("parse search url: missing host in %q", rawURL)
	}
	if defaultCountry == "" {
		defaultCountry = DefaultCountryCode
	}

	q := u.Query()
	domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	perPage := DefaultResultsPerPage
	if n, err := strconv.Atoi(q.Get("num")); err == nil && n > 0 {
		perPage = n
	}

	return SearchQuery{
		Term:           q.Get("q"),
		Device:         device,
		Page:           pageIndex + 1,
		Type:           QueryTypeSearch,
		Domain:         domain,
		CountryCode:    CountryForDomain(domain, defaultCountry),
		LanguageCode:   q.Get("hl"),
		LocationUule:   q.Get("uule"),
		ResultsPerPage: perPage,
	}, nil
}

// SearchParams are the optional parameters applied to term queries.
type SearchParams struct {
	Domain         string
	CountryCode    string
	LanguageCode   string
	LocationUule   string
	ResultsPerPage int
}

// BuildSearchURL returns the canonical results-page URL for a term.
func BuildSearchURL(term string, p SearchParams) string {
	domain := strings.TrimPrefix(strings.ToLower(p.Domain), "www.")
	if domain == "" {
		domain = DefaultDomain
	}

	q := url.Values{}
	q.Set("q", term)
	if p.ResultsPerPage > 0 {
		q.Set("num", strconv.Itoa(p.ResultsPerPage))
	}
	if p.LanguageCode != "" {
		q.Set("hl", p.LanguageCode)
	}
	if p.CountryCode != "" {
		q.Set("gl", strings.ToLower(p.CountryCode))
	}
	if p.LocationUule != "" {
		q.Set("uule", p.LocationUule)
	}

	u := url.URL{
		Scheme:   "http",
		Host:     "www." + domain,
		Path:     "/search",
		RawQuery: q.Encode(),
	}
	return u.String()
}

// NormalizeURL applies the scheme and host fixups used for URL inputs.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("normalize url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("normalize url: missing host in %q", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), nil
}
