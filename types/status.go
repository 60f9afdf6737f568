// Package types defines core domain types for the assay pipeline.
//
//nolint:revive // types is a common Go package naming convention
package types

// RunStatus is the lifecycle status of a Run.
type RunStatus string

const (
	// RunPending indicates the run has no started work yet.
	RunPending RunStatus = "pending"
	// RunRunning indicates at least one item is in flight or finished
	// while others remain.
	RunRunning RunStatus = "running"
	// RunCompleted indicates every item reached a terminal status.
	RunCompleted RunStatus = "completed"
	// RunFailed indicates the run was marked failed by an operator.
	RunFailed RunStatus = "failed"
	// RunCancelled indicates the run was cancelled by an operator.
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal returns true once the run can no longer make progress on
// its own.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// ItemStatus is the lifecycle status of a RunItem.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	// ItemSkipped is reachable only via duplicate-fingerprint detection
	// during materialization.
	ItemSkipped ItemStatus = "skipped"
)

// IsTerminal returns true if the item status cannot transition further
// without an explicit retry.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemSucceeded || s == ItemFailed || s == ItemSkipped
}

// ExportStatus is the lifecycle status of an Export.
type ExportStatus string

const (
	ExportPending    ExportStatus = "pending"
	ExportProcessing ExportStatus = "processing"
	ExportCompleted  ExportStatus = "completed"
	ExportFailed     ExportStatus = "failed"
)

// DeliveryStatus is the lifecycle status of a Delivery.
// Pending is re-entered between retries; succeeded and failed are terminal.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// ExportFormat is a supported export file format.
type ExportFormat string

const (
	FormatCSV   ExportFormat = "csv"
	FormatXLSX  ExportFormat = "xlsx"
	FormatJSONL ExportFormat = "jsonl"
)

// ValidExportFormat reports whether s names a supported export format.
func ValidExportFormat(s string) bool {
	switch ExportFormat(s) {
	case FormatCSV, FormatXLSX, FormatJSONL:
		return true
	}
	return false
}

// StatusCounts holds per-status item counts for one run.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Total returns the number of items across all statuses.
func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Succeeded + c.Failed + c.Skipped
}

// Terminal returns the number of items in a terminal status.
func (c StatusCounts) Terminal() int {
	return c.Succeeded + c.Failed + c.Skipped
}
