package record

import (
	"math"
	"net/url"
	"strings"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

const priceDecimals = 1e9

// Normalize returns a copy of r ready for the sink: non-integer prices rounded
// to nine decimals and the page URL percent-encoded unless it already is.
func Normalize(r crawler.Record) crawler.Record {
	r.Prices = crawler.Prices{
		Min: roundPrice(r.Prices.Min),
		Avg: roundPrice(r.Prices.Avg),
		Max: roundPrice(r.Prices.Max),
	}
	r.PageURL = EncodeURI(r.PageURL)
	return r
}

// WithDefaults fills the empty fields of r from d.
func WithDefaults(r, d crawler.Record) crawler.Record {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&r.Product, d.Product)
	fill(&r.Country, d.Country)
	fill(&r.Date, d.Date)
	fill(&r.Type, d.Type)
	fill(&r.PageURL, d.PageURL)
	fill(&r.Unit, d.Unit)
	fill(&r.Currency, d.Currency)
	fill(&r.Region, d.Region)
	fill(&r.Grade, d.Grade)
	fill(&r.Variety, d.Variety)
	fill(&r.Origin, d.Origin)
	return r
}

func roundPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	if v != math.Trunc(v) {
		v = math.Round(v*priceDecimals) / priceDecimals
	}
	return &v
}

// EncodeURI percent-encodes raw the way a browser encodes a full URI, leaving
// reserved delimiters intact. Input that already holds escapes is returned as is.
func EncodeURI(raw string) string {
	if decoded, err := url.PathUnescape(raw); err != nil || decoded != raw {
		return raw
	}
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()#", c) >= 0
}
