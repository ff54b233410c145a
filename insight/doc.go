// Package insight contains the two memory-synthesis engines: Reflection
// (batch insight over accumulated memories) and Metacognition (self
// evaluation of goal progress that may emit schedule modifications).
//
// Both engines depend on long-latency generation calls, so they never call
// the generation service themselves. They expose a prepare/complete pair:
// Prepare checks the trigger gates, marks the accumulation window in flight
// and returns the prompt; the orchestrator runs the generation job off the
// tick loop and hands the text back to Complete (or Abort on job failure).
// The in-flight keying by (agent, trigger epoch) guarantees a retried or
// duplicate trigger cannot produce two results for one accumulation window.
package insight
