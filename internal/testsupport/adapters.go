package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// TranscriptionCall records one SubmitJob invocation.
type TranscriptionCall struct {
	AudioURL    string
	CallbackURL string
}

// FakeTranscriber records SubmitJob calls and returns scripted results.
type FakeTranscriber struct {
	mu    sync.Mutex
	calls []TranscriptionCall
	// Err, when set, is returned from every call.
	Err error
	// JobID is returned on success; defaults to job-<n>.
	JobID string
	// Before, when set, runs first and its error is returned as the result.
	Before func(ctx context.Context) error
}

func (f *FakeTranscriber) SubmitJob(ctx context.Context, audioURL, callbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, TranscriptionCall{AudioURL: audioURL, CallbackURL: callbackURL})
	if f.Before != nil {
		if err := f.Before(ctx); err != nil {
			return "", err
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.JobID != "" {
		return f.JobID, nil
	}
	return fmt.Sprintf("job-%d", len(f.calls)), nil
}

// Calls returns a copy of the recorded calls.
func (f *FakeTranscriber) Calls() []TranscriptionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TranscriptionCall(nil), f.calls...)
}

// FakeEnhancer records Enhance calls and returns scripted results.
type FakeEnhancer struct {
	mu          sync.Mutex
	transcripts []string
	Err         error
	// Result is returned on success; defaults to {"summary": <transcript>}.
	Result json.RawMessage
	// Block, when non-nil, is received from before returning.
	Block chan struct{}
	// Before, when set, runs first and its error is returned as the result.
	Before func(ctx context.Context) error
}

func (f *FakeEnhancer) Enhance(ctx context.Context, transcript string) (json.RawMessage, error) {
	f.mu.Lock()
	f.transcripts = append(f.transcripts, transcript)
	block := f.Block
	before := f.Before
	f.mu.Unlock()

	if before != nil {
		if err := before(ctx); err != nil {
			return nil, err
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result != nil {
		return f.Result, nil
	}
	encoded, err := json.Marshal(map[string]string{"summary": transcript})
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// Transcripts returns the transcripts passed to Enhance.
func (f *FakeEnhancer) Transcripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.transcripts...)
}

// Notification records one terminal-status notification.
type Notification struct {
	PipelineID string
	UserID     string
	// Reason is empty for completions.
	Reason string
}

// FakeNotifier records pipeline notifications.
type FakeNotifier struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func (f *FakeNotifier) NotifyPipelineCompleted(_ context.Context, pipelineID, userID string) error {
	return f.record(Notification{PipelineID: pipelineID, UserID: userID})
}

func (f *FakeNotifier) NotifyPipelineFailed(_ context.Context, pipelineID, userID, reason string) error {
	return f.record(Notification{PipelineID: pipelineID, UserID: userID, Reason: reason})
}

func (f *FakeNotifier) record(n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.Err
}

// Sent returns the recorded notifications.
func (f *FakeNotifier) Sent() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notification(nil), f.sent...)
}
