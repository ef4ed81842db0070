package storage

import (
	"context"
	"errors"
	"time"
)

// Record is one harvested site as persisted at the end of a job.
type Record struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Keyword   string    `json:"keyword"`
	Domain    string    `json:"domain"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter allows querying for specific Records.
type Filter struct {
	JobID  string
	Domain string
	Since  *time.Time
	Limit  int
	Offset int
}

// Match reports whether r satisfies the non-paging parts of the filter.
func (f Filter) Match(r *Record) bool {
	if f.JobID != "" && r.JobID != f.JobID {
		return false
	}
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered slice.
func (f Filter) Page(records []*Record) []*Record {
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []*Record{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(records) {
		records = records[:f.Limit]
	}
	return records
}

// Backend defines the interface for storing and querying harvest records.
type Backend interface {
	Save(ctx context.Context, record *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// Aborter is implemented by backends that can drop everything saved since
// they were opened.
type Aborter interface {
	Abort() error
}

// Abort discards b's output when b supports it and closes b otherwise.
func Abort(b Backend) error {
	if a, ok := b.(Aborter); ok {
		return a.Abort()
	}
	return b.Close()
}

// Tee fans every Save out to all backends. Query reads from the first one.
type Tee []Backend

var _ Backend = Tee(nil)

func (t Tee) Save(ctx context.Context, record *Record) error {
	for _, b := range t {
		if err := b.Save(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	if len(t) == 0 {
		return []*Record{}, nil
	}
	return t[0].Query(ctx, filter)
}

func (t Tee) Close() error {
	var errs []error
	for _, b := range t {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

func (t Tee) Abort() error {
	var errs []error
	for _, b := range t {
		errs = append(errs, Abort(b))
	}
	return errors.Join(errs...)
}

// KeepOpen wraps a shared backend so that closing the wrapper leaves it open.
func KeepOpen(b Backend) Backend { return keepOpen{b} }

type keepOpen struct{ Backend }

func (keepOpen) Close() error { return nil }
func (keepOpen) Abort() error { return nil }
