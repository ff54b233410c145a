// Package memory implements the agent memory subsystem: the Manager with its
// multi-stage storage filter pipeline (importance gate, temporal dedup,
// semantic dedup, movement aggregation) and contextual retrieval, plus two
// core.MemoryStore backends: a process-local InMemoryStore and a durable
// SQLiteStore that also implements core.PlanStore.
package memory
