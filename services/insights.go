package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bds-warehouse/models"
	"bds-warehouse/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// avg accumulates an SQL-style average: values passed as nil are skipped.
type avg struct {
	sum float64
	n   int
}

func (a *avg) add(v float64) {
	a.sum += v
	a.n++
}

func (a *avg) addPtr(v *float64) {
	if v != nil {
		a.add(*v)
	}
}

func (a avg) value() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

func (a avg) ptr() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.value()
	return &v
}

type groupAcc struct {
	count        int
	price, area  avg
	pricePerArea avg
}

func (g *groupAcc) add(f models.MartFact) {
	g.count++
	g.price.add(f.Price)
	g.area.add(f.Area)
	g.pricePerArea.addPtr(f.PricePerM2)
}

// AggregateDistricts groups current facts by city and district. Districts
// come back busiest first, ties broken by name.
func AggregateDistricts(facts []models.MartFact, snapshot time.Time) []models.DistrictAggregate {
	type key struct{ city, district string }
	groups := make(map[key]*groupAcc)
	var order []key
	for _, f := range facts {
		if !f.IsCurrent {
			continue
		}
		k := key{f.City, f.District}
		g, ok := groups[k]
		if !ok {
			g = &groupAcc{}
			groups[k] = g
			order = append(order, k)
		}
		g.add(f)
	}

	out := make([]models.DistrictAggregate, 0, len(order))
	for _, k := range order {
		g := groups[k]
		out = append(out, models.DistrictAggregate{
			City:          k.city,
			District:      k.district,
			ListingCount:  g.count,
			AvgPrice:      g.price.value(),
			AvgArea:       g.area.value(),
			AvgPricePerM2: g.pricePerArea.ptr(),
			SnapshotDate:  models.DateOnly(snapshot),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ListingCount != out[j].ListingCount {
			return out[i].ListingCount > out[j].ListingCount
		}
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		return out[i].District < out[j].District
	})
	return out
}

// AggregateTypeMonths groups current facts by property type and posting
// month. Facts without a posting date are left out.
func AggregateTypeMonths(facts []models.MartFact, snapshot time.Time) []models.TypeMonthAggregate {
	type key struct {
		propertyType string
		year, month  int
	}
	groups := make(map[key]*groupAcc)
	var order []key
	for _, f := range facts {
		if !f.IsCurrent || f.PostingDate.IsZero() {
			continue
		}
		k := key{f.PropertyType, f.PostingDate.Year(), int(f.PostingDate.Month())}
		g, ok := groups[k]
		if !ok {
			g = &groupAcc{}
			groups[k] = g
			order = append(order, k)
		}
		g.add(f)
	}

	out := make([]models.TypeMonthAggregate, 0, len(order))
	for _, k := range order {
		g := groups[k]
		out = append(out, models.TypeMonthAggregate{
			PropertyType:  k.propertyType,
			Year:          k.year,
			Month:         k.month,
			ListingCount:  g.count,
			AvgPrice:      g.price.value(),
			AvgArea:       g.area.value(),
			AvgPricePerM2: g.pricePerArea.ptr(),
			SnapshotDate:  models.DateOnly(snapshot),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].PropertyType < out[j].PropertyType
	})
	return out
}

// Generate builds the report for one mart snapshot.
func (s *InsightService) Generate(facts []models.MartFact, snapshot time.Time) *models.MartReport {
	report := &models.MartReport{
		SnapshotDate: models.DateOnly(snapshot),
		Districts:    AggregateDistricts(facts, snapshot),
		TypeMonths:   AggregateTypeMonths(facts, snapshot),
	}

	var priced []models.MartFact
	for _, f := range facts {
		if !f.IsCurrent {
			continue
		}
		report.TotalListings++
		if f.Price > 0 {
			priced = append(priced, f)
		}
	}

	// Price stats (only listings with price > 0)
	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = &priced[0]
		var total float64
		for i := range priced {
			l := &priced[i]
			total += l.Price
			if l.Price < report.MinPrice {
				report.MinPrice = l.Price
			}
			if l.Price > report.MaxPrice {
				report.MaxPrice = l.Price
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
	}

	s.logger.Debug("[insights] %d listings, %d districts, %d type-months",
		report.TotalListings, len(report.Districts), len(report.TypeMonths))
	return report
}

func (s *InsightService) Print(w io.Writer, r *models.MartReport) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 BĐS MART SNAPSHOT %s\033[0m\n", r.SnapshotDate.Format("2006-01-02"))
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Current listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Districts        : \033[1m%d\033[0m\n", len(r.Districts))
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics (VND)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m%s\033[0m\n", formatVND(r.AveragePrice))
		fmt.Fprintf(w, "  Minimum price : \033[1;32m%s\033[0m\n", formatVND(r.MinPrice))
		fmt.Fprintf(w, "  Maximum price : \033[1;32m%s\033[0m\n", formatVND(r.MaxPrice))
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Name, 60))
		fmt.Fprintf(w, "  District : %s, %s\n", r.MostExpensive.District, r.MostExpensive.City)
		fmt.Fprintf(w, "  Price    : \033[1;31m%s\033[0m\n", formatVND(r.MostExpensive.Price))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Listings by District\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Districts) == 0 {
		fmt.Fprintf(w, "  No district data\n")
	} else {
		for _, d := range r.Districts {
			bar := strings.Repeat("█", min(d.ListingCount, 30))
			name := d.District
			if name == "" {
				name = "(unknown)"
			}
			fmt.Fprintf(w, "  %-26s %s (%d) avg %s\n",
				truncate(name, 24), bar, d.ListingCount, formatVND(d.AvgPrice))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Type and Month\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TypeMonths) == 0 {
		fmt.Fprintf(w, "  No posting date data\n")
	} else {
		for _, tm := range r.TypeMonths {
			perM2 := "n/a"
			if tm.AvgPricePerM2 != nil {
				perM2 = formatVND(*tm.AvgPricePerM2) + "/m²"
			}
			fmt.Fprintf(w, "  %04d-%02d  %-14s %4d  %s\n",
				tm.Year, tm.Month, truncate(tm.PropertyType, 14), tm.ListingCount, perM2)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

// formatVND renders an amount in the units listings are quoted in.
func formatVND(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2f tỷ", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1f triệu", v/1e6)
	default:
		return fmt.Sprintf("%.0f đ", v)
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
