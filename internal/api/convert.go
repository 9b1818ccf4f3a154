package api

import (
	"scribe/internal/pipeline"
	"scribe/internal/ratelimit"
)

// FromStatusState converts a coordinator status view to its wire form.
func FromStatusState(view pipeline.StatusState) PipelineStatus {
	return PipelineStatus{
		Status:            string(view.Status),
		Transcript:        view.Transcript,
		LLMResult:         view.LLMResult,
		Error:             view.Error,
		ProviderRequestID: view.ProviderRequestID,
	}
}

// FromState converts a persisted pipeline to its listing form.
func FromState(st pipeline.State) Pipeline {
	dto := Pipeline{
		PipelineID:        st.PipelineID,
		UserID:            st.UserID,
		AudioURL:          st.AudioURL,
		Status:            string(st.Status),
		Provider:          st.Provider,
		RequestID:         st.RequestID,
		ProviderRequestID: st.ProviderRequestID,
		Transcript:        st.Transcript,
		LLMResult:         st.LLMResult,
		Error:             st.Error,
	}
	if !st.CreatedAt.IsZero() {
		dto.CreatedAt = st.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !st.UpdatedAt.IsZero() {
		dto.UpdatedAt = st.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromStates converts a slice of pipelines.
func FromStates(states []pipeline.State) []Pipeline {
	if len(states) == 0 {
		return nil
	}
	out := make([]Pipeline, 0, len(states))
	for _, st := range states {
		out = append(out, FromState(st))
	}
	return out
}

// FromLimiterState converts a limiter window.
func FromLimiterState(key string, st ratelimit.State) RateLimitState {
	return RateLimitState{Key: key, WindowStartMs: st.WindowStartMs, Count: st.Count}
}
