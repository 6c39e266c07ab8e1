// Package sdtmforge orchestrates AI-assisted generation of SDTM datasets
// from raw clinical study data under double-programming controls.
//
// SDTMForge runs each study domain through a staged pipeline: a mapping
// spec is drafted from the raw data and the implementation guide, reviewed,
// and gated on explicit human decisions; then two independent agents write
// transformation programs whose outputs must converge exactly before the
// result is validated against controlled terminology.
//
// Key Components:
//
//   - pipeline: The stage machine (spec_build through done), its persisted
//     run state, and the failure/force/resume semantics.
//
//   - spec: The versioned mapping specification, its pending-decision
//     variables, and the on-disk spec store.
//
//   - compare: The convergence engine that diffs the production and qc
//     candidate datasets and drives qc regeneration, bounded at five
//     comparison attempts.
//
//   - memory: Layered study/organization memory: recorded decisions,
//     pitfalls with human-gated promotion to standards, domain contexts,
//     and program modification history.
//
//   - generate: LLM-backed spec drafting, program generation, and the
//     script executor and terminology validator.
//
//   - igclient: Client for the implementation-guide lookup server,
//     spoken over MCP stdio.
//
// The sdtmforge command under cmd/ wires these together for running,
// resuming, and force-continuing domain pipelines and for promoting
// recurring pitfalls into organization standards.
package sdtmforge
