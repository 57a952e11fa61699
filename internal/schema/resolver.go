package schema

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Candidate is one structured-message definition attempted during
// best-effort decoding of a raw value.
type Candidate interface {
	// TypeName identifies the candidate, e.g. "example.UserProfile" or "cbor".
	TypeName() string

	// Decode attempts to decode raw bytes into a Record. A failure is
	// expected, non-fatal data: wrong-format bytes simply do not match
	// this candidate.
	Decode(raw []byte) (*Record, error)
}

// Attempt records one failed (or, for the winning candidate, successful)
// decode attempt for diagnostics.
type Attempt struct {
	TypeName string `json:"type_name"`
	Error    string `json:"error,omitempty"`
}

// Outcome is the result of resolving raw bytes against all candidates.
// Record is nil when no candidate matched; Attempts always lists the
// candidates tried, in order.
type Outcome struct {
	Record   *Record   `json:"record,omitempty"`
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Resolver tries candidate schemas in fixed registration order and reports
// the first success. It is immutable after construction: configuration
// reloads build a new Resolver and swap it in, so an in-flight request
// keeps a consistent view.
type Resolver struct {
	candidates []Candidate
	logger     *logrus.Logger
}

// NewResolver builds a resolver over the given candidates. Order matters:
// resolution is first-success-wins, not best-fit.
func NewResolver(logger *logrus.Logger, candidates ...Candidate) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{candidates: candidates, logger: logger}
}

// TypeNames returns the candidate type names in registration order.
func (r *Resolver) TypeNames() []string {
	names := make([]string, len(r.candidates))
	for i, c := range r.candidates {
		names[i] = c.TypeName()
	}
	return names
}

// Resolve decodes raw against each candidate in registration order. The
// first success stops the search; earlier failures remain in Attempts as
// diagnostics. When every candidate fails, Record is nil and Attempts holds
// the full list. Resolve never returns an error: decode failures are data.
func (r *Resolver) Resolve(raw []byte) Outcome {
	var attempts []Attempt
	for _, cand := range r.candidates {
		record, err := safeDecode(cand, raw)
		if err != nil {
			attempts = append(attempts, Attempt{TypeName: cand.TypeName(), Error: err.Error()})
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"type":          cand.TypeName(),
			"failed_before": len(attempts),
		}).Debug("Value decoded")
		return Outcome{Record: record, Attempts: attempts}
	}
	return Outcome{Record: nil, Attempts: attempts}
}

// safeDecode converts a panicking candidate into a decode failure so a bad
// decoder cannot abort the surrounding search.
func safeDecode(c Candidate, raw []byte) (record *Record, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			record = nil
			err = fmt.Errorf("decoder panic: %v", rec)
		}
	}()
	return c.Decode(raw)
}
