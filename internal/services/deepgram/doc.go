// Package deepgram submits asynchronous pre-recorded transcription jobs to
// Deepgram. The transcript is delivered later to the callback URL supplied
// with each job.
//
// Transport failures and HTTP 408/429/5xx responses are retried with
// exponential backoff (500ms initial, doubling, 30s cap, retry_attempts
// total). Other 4xx responses are permanent.
package deepgram
