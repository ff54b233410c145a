// Package model contains the provider adapters behind the generation and
// embedding service interfaces, plus deterministic mocks for tests.
//
// Adapters are intentionally thin: cognition code builds complete prompts and
// parses complete responses, so an adapter only has to turn one prompt into
// one text (or one text into one vector). Provider specifics such as message
// roles, token limits and retry-worthy errors stay inside the subpackages.
package model
