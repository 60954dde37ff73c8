package alonhadat

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"bds-warehouse/models"
)

const (
	defaultCity   = "Hồ Chí Minh"
	otherType     = "Khác"
	briefMaxRunes = 100
)

// typeKeywords are matched in order against the lowercased title and brief.
var typeKeywords = []struct{ keyword, name string }{
	{"căn hộ", "Căn hộ"},
	{"nhà phố", "Nhà phố"},
	{"biệt thự", "Biệt thự"},
	{"đất nền", "Đất nền"},
}

// ParsePage extracts the listings of one result page. base resolves relative
// detail links. A page without the listing section yields no rows.
func ParsePage(html string, base *url.URL, crawlDate time.Time) ([]models.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var out []models.RawListing
	day := crawlDate.Format("2006-01-02")
	doc.Find("section.list-property-box article.property-item").Each(func(_ int, item *goquery.Selection) {
		out = append(out, parseItem(item, base, day))
	})
	return out, nil
}

func parseItem(item *goquery.Selection, base *url.URL, crawlDay string) models.RawListing {
	l := models.RawListing{CrawlDate: crawlDay}

	if href, ok := item.Find("a[href]").First().Attr("href"); ok {
		l.URL = resolve(base, href)
		l.Key = KeyFromHref(href)
	}

	l.Name = text(item.Find("h3.property-title"))
	l.Price = text(item.Find("span.price span[itemprop=price]"))
	if area := text(item.Find("span.area span[itemprop=value]")); area != "" {
		l.Area = area + " m²"
	}
	l.Bedrooms = text(item.Find("span.bedroom span[itemprop=value]"))
	l.Floors = text(item.Find("span.floors"))
	l.StreetWidth = text(item.Find("span.street-width"))

	var parts []string
	item.Find("p.new-address span").Each(func(_ int, s *goquery.Selection) {
		if t := text(s); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) > 0 {
		l.OldAddress = strings.Join(parts, ", ")
		l.Street, l.Ward, l.District, l.City = SplitAddress(parts)
	}

	brief := item.Find("p.brief").First().Clone()
	brief.Find("span.view-detail").Remove()
	l.Description = truncateRunes(text(brief), briefMaxRunes)

	if dt, ok := item.Find("time.created-date").Attr("datetime"); ok {
		l.PostingDate = isoDay(dt)
	}

	l.PropertyType = PropertyType(l.Name, l.Description)
	return l
}

// KeyFromHref returns the listing key: the last dash-separated segment of the
// detail link, without the .html suffix.
func KeyFromHref(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	i := strings.LastIndex(href, "-")
	return strings.TrimSuffix(href[i+1:], ".html")
}

// PropertyType infers the property type from the title and brief.
func PropertyType(title, description string) string {
	title, description = strings.ToLower(title), strings.ToLower(description)
	for _, k := range typeKeywords {
		if strings.Contains(title, k.keyword) || strings.Contains(description, k.keyword) {
			return k.name
		}
	}
	return otherType
}

// SplitAddress maps comma-separated address parts to street, ward, district
// and city. Three parts or fewer are ward, district, city; a fourth leading
// part is the street. The city defaults to Hồ Chí Minh.
func SplitAddress(parts []string) (street, ward, district, city string) {
	if len(parts) >= 4 {
		street, parts = parts[0], parts[1:]
	}
	if len(parts) > 0 {
		ward = parts[0]
	}
	if len(parts) > 1 {
		district = parts[1]
	}
	city = defaultCity
	if len(parts) > 2 {
		city = parts[2]
	}
	return street, ward, district, city
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func isoDay(s string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
