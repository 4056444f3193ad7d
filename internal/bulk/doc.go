// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package bulk applies one action to many documents of a collection.
//
// Two execution modes are provided by Executor. Execute isolates every item:
// a failing or missing document is recorded in the Result and the remaining
// ids are still attempted. ExecuteInTransaction stages every mutation in a
// single store transaction and either commits all of them or none.
//
// Neither mode enforces config.MaxBulkOperationItems. Service is the
// caller-side entry point that validates the request, applies the item
// ceiling, and checks the caller's role before running an executor.
package bulk
