// Package agent defines the response-generator contract and its two
// implementations: an OpenAI-backed generator used in production and a
// deterministic fake used by tests and local development.
//
// Generators stream Response events over a channel while a turn is in
// flight, so connection handlers can relay thinking and tool activity
// to the client before the final text arrives. The same implementations
// also provide the fact-extraction and fact-checking completions the
// background workers run between turns.
package agent
