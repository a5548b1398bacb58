package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

// ReportInput carries the figures of a finished run.
type ReportInput struct {
	Metadata crawler.SourceMetadata
	Source   crawler.Source
	Kind     crawler.Kind
	Mode     Mode
	Timezone string
	// Date is the requested date; Dates the record dates actually covered.
	Date    string
	Dates   []string
	Count   int
	Elapsed time.Duration
}

// Flag renders a country code as a chat flag emoji shortcode.
func Flag(country string) string {
	if country == "" {
		return ""
	}
	return ":flag-" + strings.ToLower(country) + ":"
}

// FormatReport builds the human readable summary of a run.
func FormatReport(in ReportInput) crawler.Report {
	flag := Flag(in.Metadata.Country)
	name := in.Metadata.Name
	if in.Source.ID != "" {
		name = fmt.Sprintf("%s (#%s)", name, in.Source.ID)
	}
	count := humanize.Comma(int64(in.Count))
	took := in.Elapsed.Round(time.Second).String()

	var text string
	if in.Mode == ModeByDate {
		text = fmt.Sprintf("A crawler *%s* %s has processed *%s* *%s* prices for *%s*",
			name, flag, count, kindLabel(in.Kind), in.Date)
		if coverage := coverage(in.Dates); coverage != "" {
			text += " and actual date coverage was " + coverage
		}
		text += fmt.Sprintf(", it took `%s`.", took)
	} else {
		text = fmt.Sprintf("A hash crawler *%s* %s has processed *%s* prices", name, flag, count)
		if listed := listDates(in.Dates); listed != "" {
			text += " for *" + listed + "*"
		}
		text += fmt.Sprintf(", and it took `%s`.", took)
	}

	return crawler.Report{
		Text:        text,
		Title:       in.Metadata.Name,
		TitleLink:   in.Metadata.URL,
		Description: in.Metadata.Description,
		Fields: []crawler.Field{
			{Title: "Country", Value: flag, Short: true},
			{Title: "Currency", Value: in.Metadata.Currency, Short: true},
			{Title: "Timezone", Value: in.Timezone, Short: true},
		},
	}
}

func kindLabel(k crawler.Kind) string {
	if k == crawler.KindRetail {
		return "retail"
	}
	return "wholesale"
}

func coverage(dates []string) string {
	switch len(dates) {
	case 0:
		return ""
	case 1:
		return dates[0]
	default:
		return dates[0] + " ~ " + dates[len(dates)-1]
	}
}

func listDates(dates []string) string {
	switch len(dates) {
	case 0:
		return ""
	case 1, 2:
		return strings.Join(dates, ", ")
	default:
		return dates[0] + ", " + dates[1] + ", ..., " + dates[len(dates)-1]
	}
}
