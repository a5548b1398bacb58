package crawler

import (
	"context"
	"time"
)

// Sink receives flushed batches and the terminal completion of a run.
type Sink interface {
	PushBatch(ctx context.Context, batch Batch) error
	Complete(ctx context.Context, completion Completion) error
}

// Registry resolves the durable identity of a data source.
type Registry interface {
	CreateOrUpdateSource(ctx context.Context, meta SourceMetadata) (Source, error)
}

// Archiver persists raw documents.
type Archiver interface {
	Archive(ctx context.Context, doc Document) (string, error)
}

// ArchiveReader loads the documents of the latest archived crawl.
type ArchiveReader interface {
	ReadArchive(ctx context.Context, query ArchiveQuery) ([][]byte, error)
}

// Notifier delivers run reports.
type Notifier interface {
	Report(ctx context.Context, report Report) error
}

// Alarmer raises upstream-change alarms.
type Alarmer interface {
	CreateAlarm(ctx context.Context, alarm Alarm) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// HashGenerator produces run correlation hashes.
type HashGenerator interface {
	NewRunHash() (string, error)
}
