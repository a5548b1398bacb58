package crawler

import "time"

// Kind selects the record flavor a crawler emits and the sink mutation used for it.
type Kind string

// Record kinds understood by the sinks.
const (
	KindWholesale Kind = "data"
	KindRetail    Kind = "merchandise"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindWholesale || k == KindRetail
}

// Prices groups the optional price points of a record.
type Prices struct {
	Min *float64 `json:"priceMin,omitempty"`
	Avg *float64 `json:"priceAvg,omitempty"`
	Max *float64 `json:"priceMax,omitempty"`
}

// Record is a single normalized price observation produced by a consumer.
type Record struct {
	Product  string `json:"product" validate:"required"`
	Country  string `json:"country" validate:"required,len=2"`
	Date     string `json:"date" validate:"required,pricedate"`
	Type     string `json:"type" validate:"required,len=1"`
	PageURL  string `json:"pageUrl" validate:"required,url"`
	Unit     string `json:"unit" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
	Prices   Prices `json:"prices"`
	Region   string `json:"region,omitempty"`
	Grade    string `json:"grade,omitempty"`
	Variety  string `json:"variety,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// SourceMetadata describes a data source to the registry.
type SourceMetadata struct {
	Name        string `json:"name"`
	Country     string `json:"country"`
	Language    string `json:"language"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Source is the registry's durable identity for a data source.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Batch is one bounded group of records flushed to the sink.
type Batch struct {
	SourceID string   `json:"sourceId"`
	Hash     string   `json:"hash"`
	Kind     Kind     `json:"kind"`
	Records  []Record `json:"records"`
}

// Completion marks the end of a run for the sink.
type Completion struct {
	SourceID string `json:"sourceId"`
	Hash     string `json:"hash"`
	Kind     Kind   `json:"kind"`
	Date     string `json:"date,omitempty"`
}

// Document is a raw fetched payload kept for replay and audit.
type Document struct {
	Source    string
	Version   int
	Date      string
	Sequence  int
	Extension string
	Body      []byte
	CrawledAt time.Time
}

// ArchiveQuery selects archived documents of one source version and date.
type ArchiveQuery struct {
	Source    string
	Version   int
	Date      string
	Extension string
}

// Field is a short labelled value attached to a report.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Report is the human-readable summary of a finished run.
type Report struct {
	Text        string  `json:"text"`
	Title       string  `json:"title"`
	TitleLink   string  `json:"title_link,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// Alarm flags an upstream page-structure change.
type Alarm struct {
	SourceID string `json:"sourceId"`
	Message  string `json:"message"`
	URL      string `json:"url"`
	Date     string `json:"date,omitempty"`
}
