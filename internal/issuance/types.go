package issuance

import (
	"github.com/magicliang/distributed-sequence/internal/model"
	"github.com/magicliang/distributed-sequence/internal/routing"
)

// Request is the Generate operation's input (SPEC_FULL.md §6).
type Request struct {
	BusinessType    string
	TimeKey         *string // nil means "substitute today's date"
	Count           int
	IncludeRouting  bool
	ShardDBCount    int
	ShardTableCount int
	CustomStepSize  *int32
	ForcedRole      *model.Role
}

// Result is the Generate operation's output.
type Result struct {
	IDs          []int64
	BusinessType string
	TimeKey      string
	Role         model.Role
	NodeID       string
	TimestampMs  int64
	Routing      *routing.Hint
}
