// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package bulk

// Messages reported in Result.Message and ItemError.Error.
const (
	MsgNoItemsSelected = "No items selected"
	MsgItemNotFound    = "Item not found"
)

// ItemError describes why a single id failed.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Result is the aggregated report of one bulk operation.
//
// Success is true whenever at least one id was processed, even if some of
// them failed. Errors is only populated when FailedCount > 0 and is ordered
// like the request ids.
type Result struct {
	Success      bool        `json:"success"`
	SuccessCount int         `json:"successCount"`
	FailedCount  int         `json:"failedCount"`
	Errors       []ItemError `json:"errors,omitempty"`
	Message      string      `json:"message,omitempty"`
}

// Partial reports whether the batch ran but some items failed.
func (r Result) Partial() bool {
	return r.Success && r.FailedCount > 0
}

func noItemsResult() Result {
	return Result{Message: MsgNoItemsSelected}
}

func failedResult(message string) Result {
	return Result{Message: message}
}
