// Package core provides the address validation operations shared by the
// HTTP API and the bulk CLI.
//
// The package holds no transport code. It wires the country rule registry,
// the single-address validator, the batch job manager and the confirmation
// tracker into one [Service].
//
// # Service
//
// [NewService] builds everything from a [config.Config] and a [Deps] value.
// Only the oracle interpreter is required:
//
//	svc, err := core.NewService(cfg, core.Deps{
//	    Interpreter: interp,
//	    Agent:       agent, // nil disables confirmation
//	    Store:       st,    // nil keeps results in memory
//	    Metrics:     m,
//	})
//
// Every validated result, single or batch, is written to the store so it
// can later be sent for confirmation with [Service.TriggerAgent].
//
// # CSV Intake
//
// [ParseBatchCSV] reads spreadsheet exports: the BOM is skipped, invalid
// UTF-8 is replaced and the upload is size-limited while streaming. Headers
// are matched against synonym lists; without an address column the address
// is composed from street, suburb, city, province and postal code columns.
//
//  1. Client uploads a CSV to POST /api/validate-batch
//  2. [Service.ParseBatch] turns it into rows
//  3. [Service.SubmitBatch] starts a background job
//  4. Clients poll [Service.BatchStatus] and download [Service.ExportBatch]
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has its own code range for support reference:
//
//   - CFG: country rule documents
//   - SCH, ORA: the oracle
//   - JOB: batch jobs
//   - CNF: confirmation
//   - FILE: CSV uploads
package core
