// Package core contains the shared domain types and service interfaces of
// TownMind: memory records, agents, plans, relationships, locations and the
// store/service contracts every other package programs against.
//
// Interfaces are defined here and implemented in sibling packages (memory,
// social, catalog, model, coord) so that components depend on contracts, not
// concrete backends. Catalogs and registries are constructed once at startup
// and injected; there are no package-level mutable globals.
package core
