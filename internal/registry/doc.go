// Package registry resolves source identities and records UI-drift alarms.
// Subpackages implement crawler.Registry and crawler.Alarmer per backend.
package registry
