// Package notify delivers run reports. Subpackages implement crawler.Notifier.
package notify
