// Package session drives one client's resume analysis from document to
// filtered matches.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/filtering"
	"github.com/spigell/resume-matcher/internal/metrics"
	"github.com/spigell/resume-matcher/internal/posting"
	"github.com/spigell/resume-matcher/internal/profile"
	"github.com/spigell/resume-matcher/internal/stream"
)

type State int

const (
	Idle State = iota
	Decoding
	DecodeFailed
	Decoded
	Matching
	MatchFailed
	Matched
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case DecodeFailed:
		return "decode_failed"
	case Decoded:
		return "decoded"
	case Matching:
		return "matching"
	case MatchFailed:
		return "match_failed"
	case Matched:
		return "matched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrSuperseded is returned for work whose result was discarded because a
	// newer submission or reset happened meanwhile.
	ErrSuperseded = errors.New("superseded by a newer submission")
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// Matcher ranks corpus postings for a profile.
type Matcher interface {
	Match(ctx context.Context, p *profile.Profile) (posting.Matches, error)
}

// Snapshot is the state of a session at one point in time. Profile, ranked
// matches and filter state always come from the same transition.
type Snapshot struct {
	SubmissionID uuid.UUID
	State        State
	Profile      *profile.Profile
	Ranked       posting.Matches
	Visible      posting.Matches
	Filter       filtering.State
	Err          error
}

func (s Snapshot) clone() Snapshot {
	s.Ranked = s.Ranked.Clone()
	s.Visible = s.Visible.Clone()
	s.Filter.SelectedCompanies = append([]string{}, s.Filter.SelectedCompanies...)
	return s
}

type Session struct {
	extractor ai.Extractor
	matcher   Matcher
	applier   *filtering.Applier
	logger    *zap.Logger

	// deliverMu is held while a delta is handed to a caller and while the
	// generation moves on, so no stale delta arrives after a newer call
	// has started. Lock order is deliverMu, then mu.
	deliverMu sync.Mutex

	mu         sync.Mutex
	snap       Snapshot
	generation uint64
	cancel     context.CancelFunc
}

func New(extractor ai.Extractor, matcher Matcher, applier *filtering.Applier, logger *zap.Logger) (*Session, error) {
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if applier == nil {
		applier = filtering.NewApplier(filtering.DateNormalizer{}, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		extractor: extractor,
		matcher:   matcher,
		applier:   applier,
		logger:    logger,
		snap:      idleSnapshot(),
	}, nil
}

func idleSnapshot() Snapshot {
	return Snapshot{
		State:   Idle,
		Ranked:  posting.Matches{Items: []posting.RankedMatch{}},
		Visible: posting.Matches{Items: []posting.RankedMatch{}},
		Filter:  filtering.DefaultState(),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// begin cancels in-flight work and starts a new generation. Callers hold mu.
func (s *Session) begin(ctx context.Context) (context.Context, uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return ctx, s.generation
}

// current reports whether gen is still the latest generation. Callers hold mu.
func (s *Session) current(gen uint64) bool {
	return gen == s.generation
}

// Reset cancels in-flight work and returns to Idle.
func (s *Session) Reset() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.snap = idleSnapshot()
	s.logger.Debug("session reset")
}

// Submission is an in-flight document decode.
type Submission struct {
	id      uuid.UUID
	decoder *stream.Decoder
	done    chan struct{}

	profile *profile.Profile
	err     error
}

func (sub *Submission) ID() uuid.UUID { return sub.id }

// Partial returns the text decoded so far.
func (sub *Submission) Partial() string {
	return sub.decoder.Partial()
}

// Done is closed when decoding has finished.
func (sub *Submission) Done() <-chan struct{} {
	return sub.done
}

// Wait blocks until decoding finishes or ctx is done.
func (sub *Submission) Wait(ctx context.Context) (*profile.Profile, error) {
	select {
	case <-sub.done:
		return sub.profile, sub.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitDocument cancels any in-flight work and starts decoding document.
// onDelta receives deltas in arrival order for as long as this submission is
// the latest one. It must not start or reset work on the same session.
func (s *Session) SubmitDocument(ctx context.Context, req ai.ExtractionRequest, onDelta func(stream.DeltaEvent)) (*Submission, error) {
	s.deliverMu.Lock()
	s.mu.Lock()
	runCtx, gen := s.begin(ctx)
	id := uuid.New()
	s.snap = idleSnapshot()
	s.snap.SubmissionID = id
	s.snap.State = Decoding
	s.mu.Unlock()
	s.deliverMu.Unlock()

	logger := s.logger.With(zap.String("submission_id", id.String()))

	deliver := func(ev stream.DeltaEvent) {
		if onDelta == nil {
			return
		}
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()

		s.mu.Lock()
		live := s.current(gen)
		s.mu.Unlock()
		if live {
			onDelta(ev)
		}
	}

	decoder, err := stream.NewDecoder(s.extractor.Framing(),
		stream.WithLogger(logger),
		stream.WithDeltaHandler(deliver),
	)
	if err != nil {
		s.commitDecode(gen, nil, err)
		return nil, err
	}

	sub := &Submission{id: id, decoder: decoder, done: make(chan struct{})}

	go func() {
		defer close(sub.done)

		p, err := s.decode(runCtx, decoder, req)
		observeDecode(s.extractor.Framing(), err)

		if err != nil {
			logger.Warn("decoding profile failed", zap.Error(err))
		} else {
			logger.Info("profile decoded", zap.String("experience_level", string(p.ExperienceLevel)))
		}

		if !s.commitDecode(gen, p, err) {
			logger.Debug("discarding decode result of superseded submission")
			sub.err = ErrSuperseded
			return
		}
		sub.profile, sub.err = p, err
	}()

	return sub, nil
}

func (s *Session) decode(ctx context.Context, decoder *stream.Decoder, req ai.ExtractionRequest) (*profile.Profile, error) {
	src, err := s.extractor.Extract(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: start extraction: %w", stream.ErrStreamAborted, err)
	}
	return decoder.Decode(ctx, src)
}

func (s *Session) commitDecode(gen uint64, p *profile.Profile, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		return false
	}

	next := idleSnapshot()
	next.SubmissionID = s.snap.SubmissionID
	if err != nil {
		next.State = DecodeFailed
		next.Err = err
	} else {
		next.State = Decoded
		next.Profile = p
	}
	s.snap = next
	return true
}

// RequestMatches ranks the corpus for the decoded profile. A non-nil p
// replaces the profile, which allows matching without a decode.
func (s *Session) RequestMatches(ctx context.Context, p *profile.Profile) (posting.Matches, error) {
	s.deliverMu.Lock()
	s.mu.Lock()
	switch state := s.snap.State; state {
	case Decoding:
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return posting.Matches{}, fmt.Errorf("%w: request matches while %s", ErrInvalidState, state)
	case Idle, DecodeFailed:
		if p == nil {
			s.mu.Unlock()
			s.deliverMu.Unlock()
			return posting.Matches{}, fmt.Errorf("%w: no profile while %s", ErrInvalidState, state)
		}
	}
	if p == nil {
		p = s.snap.Profile
	}
	runCtx, gen := s.begin(ctx)
	next := idleSnapshot()
	next.SubmissionID = s.snap.SubmissionID
	next.State = Matching
	next.Profile = p
	next.Filter = s.snap.Filter
	s.snap = next
	s.mu.Unlock()
	s.deliverMu.Unlock()

	matches, err := s.matcher.Match(runCtx, p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current(gen) {
		s.logger.Debug("discarding match result of superseded request")
		return posting.Matches{}, ErrSuperseded
	}

	next = idleSnapshot()
	next.SubmissionID = s.snap.SubmissionID
	next.Profile = p
	next.Filter = s.snap.Filter

	if err != nil {
		next.State = MatchFailed
		next.Err = err
		s.snap = next
		return posting.Matches{}, err
	}

	next.State = Matched
	next.Ranked = matches.Clone()
	next.Visible = s.applier.Apply(next.Ranked, next.Filter)
	s.snap = next

	return matches.Clone(), nil
}

// ApplyFilter records state and returns the matching view of the retained
// ranked list. Outside Matched the state is still recorded for the next
// ranking, but the view is empty and the error wraps ErrInvalidState along
// with the failure that left the session without matches, if any.
func (s *Session) ApplyFilter(state filtering.State) (posting.Matches, error) {
	state, err := state.Normalize()
	if err != nil {
		return posting.Matches{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.clone()
	next.Filter = state
	if next.State != Matched {
		s.snap = next
		empty := posting.Matches{Items: []posting.RankedMatch{}}
		if next.Err != nil {
			return empty, fmt.Errorf("%w: no matches while %s: %w", ErrInvalidState, next.State, next.Err)
		}
		return empty, fmt.Errorf("%w: no matches while %s", ErrInvalidState, next.State)
	}

	next.Visible = s.applier.Apply(next.Ranked, state)
	s.snap = next

	return next.Visible.Clone(), nil
}

func observeDecode(framing stream.Framing, err error) {
	result := "ok"
	switch {
	case errors.Is(err, stream.ErrStreamAborted):
		result = "aborted"
	case errors.Is(err, stream.ErrMalformedResponse):
		result = "malformed"
	case err != nil:
		result = "error"
	}
	metrics.ObserveDecode(string(framing), result)
}
