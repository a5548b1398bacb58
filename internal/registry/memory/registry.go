// Package memory is an in-process source registry for development and tests.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

// Registry hands out sequential ids per source name and keeps alarms in memory.
type Registry struct {
	mu      sync.Mutex
	sources map[string]crawler.Source
	meta    map[string]crawler.SourceMetadata
	alarms  []crawler.Alarm
	nextID  int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sources: make(map[string]crawler.Source),
		meta:    make(map[string]crawler.SourceMetadata),
	}
}

// CreateOrUpdateSource returns the existing identity for meta.Name, or a new one.
func (r *Registry) CreateOrUpdateSource(_ context.Context, meta crawler.SourceMetadata) (crawler.Source, error) {
	if meta.Name == "" {
		return crawler.Source{}, errors.New("source name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[meta.Name] = meta
	if src, ok := r.sources[meta.Name]; ok {
		return src, nil
	}
	r.nextID++
	src := crawler.Source{ID: strconv.Itoa(r.nextID), Name: meta.Name}
	r.sources[meta.Name] = src
	return src, nil
}

// CreateAlarm stores the alarm.
func (r *Registry) CreateAlarm(_ context.Context, alarm crawler.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alarms = append(r.alarms, alarm)
	return nil
}

// Alarms returns a copy of the recorded alarms.
func (r *Registry) Alarms() []crawler.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crawler.Alarm(nil), r.alarms...)
}

// Metadata returns the last metadata registered for name.
func (r *Registry) Metadata(name string) (crawler.SourceMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meta[name]
	return m, ok
}
