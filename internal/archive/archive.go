// Package archive keeps the raw documents fetched by crawlers so a date can
// be re-parsed later without hitting the upstream site again.
//
// Keys follow archive/crawl-data/<source>/v<version>/[<date>/]<crawl day>/s<seq>.<ext>.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-harvester/internal/crawler"
	"github.com/JakeFAU/price-harvester/internal/dates"
)

// Root is the common prefix of every archived document.
const Root = "archive/crawl-data"

// ErrNotFound is returned by stores for missing keys.
var ErrNotFound = errors.New("archived object not found")

// Store is the blob backend of an Archive.
type Store interface {
	Put(ctx context.Context, key, contentType string, body []byte, metadata map[string]string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Archive implements crawler.Archiver and crawler.ArchiveReader over a Store.
type Archive struct {
	store  Store
	clock  crawler.Clock
	logger *zap.Logger
}

// New wraps store.
func New(store Store, clock crawler.Clock, logger *zap.Logger) (*Archive, error) {
	if store == nil {
		return nil, errors.New("archive store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, clock: clock, logger: logger.Named("archive")}, nil
}

// Archive stores doc and returns the location reported by the store.
func (a *Archive) Archive(ctx context.Context, doc crawler.Document) (string, error) {
	if len(doc.Body) == 0 {
		return "", errors.New("document body is empty")
	}
	crawledAt := doc.CrawledAt
	if crawledAt.IsZero() {
		crawledAt = a.clock.Now()
	}
	key := Key(doc, crawledAt)
	sum := sha256.Sum256(doc.Body)
	loc, err := a.store.Put(ctx, key, ContentType(doc.Extension), doc.Body, map[string]string{
		"sha256":     hex.EncodeToString(sum[:]),
		"source":     doc.Source,
		"crawled_at": crawledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return loc, nil
}

// ReadArchive returns the documents of the latest crawl archived for the query.
// Documents that cannot be read are logged and skipped.
func (a *Archive) ReadArchive(ctx context.Context, q crawler.ArchiveQuery) ([][]byte, error) {
	prefix := Prefix(q.Source, q.Version, q.Date)
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	selected := SelectLatest(keys, prefix, q.Extension)
	out := make([][]byte, 0, len(selected))
	for _, key := range selected {
		body, err := a.store.Get(ctx, key)
		if err != nil {
			a.logger.Warn("failed to read archived document", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, body)
	}
	return out, nil
}

// Key builds the storage key of doc crawled on crawledAt.
func Key(doc crawler.Document, crawledAt time.Time) string {
	version := doc.Version
	if version <= 0 {
		version = 1
	}
	seq := doc.Sequence
	if seq <= 0 {
		seq = 1
	}
	ext := strings.TrimPrefix(doc.Extension, ".")
	if ext == "" {
		ext = "html"
	}
	parts := []string{Root, SnakeCase(doc.Source), "v" + strconv.Itoa(version)}
	if doc.Date != "" {
		parts = append(parts, doc.Date)
	}
	parts = append(parts, dates.Format(crawledAt), fmt.Sprintf("s%d.%s", seq, ext))
	return path.Join(parts...)
}

// Prefix is the listing prefix of one source version and date, with a
// trailing slash.
func Prefix(source string, version int, date string) string {
	if version <= 0 {
		version = 1
	}
	p := path.Join(Root, SnakeCase(source), "v"+strconv.Itoa(version))
	if date != "" {
		p = path.Join(p, date)
	}
	return p + "/"
}

// SelectLatest picks the keys of the most recent crawl below prefix. When
// sequence files sit directly under prefix they are all returned; otherwise
// the newest crawl-day folder wins. Results are in sequence order and, when
// ext is set, limited to that extension.
func SelectLatest(keys []string, prefix, ext string) []string {
	ext = strings.TrimPrefix(ext, ".")
	latest := ""
	for _, key := range keys {
		rel, ok := strings.CutPrefix(key, prefix)
		if !ok || rel == "" {
			continue
		}
		if head, _, _ := strings.Cut(rel, "/"); head > latest {
			latest = head
		}
	}
	if latest == "" {
		return nil
	}
	direct := strings.HasPrefix(latest, "s")

	var out []string
	for _, key := range keys {
		rel, ok := strings.CutPrefix(key, prefix)
		if !ok || rel == "" {
			continue
		}
		if !direct {
			if rel, ok = strings.CutPrefix(rel, latest+"/"); !ok {
				continue
			}
		}
		if strings.Contains(rel, "/") || (ext != "" && path.Ext(rel) != "."+ext) {
			continue
		}
		out = append(out, key)
	}
	sort.SliceStable(out, func(i, j int) bool { return sequence(out[i]) < sequence(out[j]) })
	return out
}

func sequence(key string) int {
	base := path.Base(key)
	base = strings.TrimSuffix(strings.TrimPrefix(base, "s"), path.Ext(base))
	n, err := strconv.Atoi(base)
	if err != nil {
		return 0
	}
	return n
}

// ContentType maps an archive extension to a MIME type.
func ContentType(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "", "html", "htm":
		return "text/html; charset=utf-8"
	case "json":
		return "application/json"
	case "xml":
		return "application/xml"
	case "csv":
		return "text/csv"
	case "xls":
		return "application/vnd.ms-excel"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// SnakeCase turns a source name such as "Taipei Market" or "TapmDataTridge"
// into its archive folder name.
func SnakeCase(s string) string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := cur[len(cur)-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return strings.Join(words, "_")
}
