// Package plan computes and executes the staged operations that bring a
// target tree in line with a source tree.
//
// A Plan has six phases that always run in the same order: directories are
// created first, assets are uploaded before the logic files that reference
// them, and nothing is deleted until every upload has finished.
package plan

import (
	"fmt"
	"strings"
)

// Phase identifies one of the six stages of a Plan.
type Phase int

const (
	CreateDirectories Phase = iota + 1
	UploadAssets
	UploadLogic
	DeleteOldLogic
	DeleteOldAssets
	DeleteOldDirectories

	numPhases = int(DeleteOldDirectories)
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	CreateDirectories,
	UploadAssets,
	UploadLogic,
	DeleteOldLogic,
	DeleteOldAssets,
	DeleteOldDirectories,
}

var phaseNames = map[Phase]string{
	CreateDirectories:    "create_directories",
	UploadAssets:         "upload_assets",
	UploadLogic:          "upload_logic",
	DeleteOldLogic:       "delete_old_logic",
	DeleteOldAssets:      "delete_old_assets",
	DeleteOldDirectories: "delete_old_directories",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText lets phases key JSON objects by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for ph, name := range phaseNames {
		if name == string(text) {
			*p = ph
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

func (p Phase) valid() bool {
	return p >= CreateDirectories && p <= DeleteOldDirectories
}

// Action is the kind of an Operation.
type Action int

const (
	CreateDirectory Action = iota + 1
	Copy
	DeleteFile
	DeleteDirectory
)

func (a Action) String() string {
	switch a {
	case CreateDirectory:
		return "create_directory"
	case Copy:
		return "copy"
	case DeleteFile:
		return "delete_file"
	case DeleteDirectory:
		return "delete_directory"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Operation is a single step of a Plan. SourcePath is only set for Copy.
type Operation struct {
	Action     Action
	SourcePath string
	TargetPath string
	Phase      Phase
}

func (o Operation) String() string {
	if o.Action == Copy {
		return fmt.Sprintf("%s %s -> %s", o.Action, o.SourcePath, o.TargetPath)
	}
	return fmt.Sprintf("%s %s", o.Action, o.TargetPath)
}

// Plan is an immutable, ordered set of operations. Build is the only way
// to populate one.
type Plan struct {
	phases [numPhases][]Operation
}

func (p *Plan) add(op Operation) {
	p.phases[op.Phase-1] = append(p.phases[op.Phase-1], op)
}

// Phase returns a copy of the operations of ph.
func (p *Plan) Phase(ph Phase) []Operation {
	if !ph.valid() {
		return nil
	}
	return append([]Operation(nil), p.phases[ph-1]...)
}

// Operations returns every operation in phase order.
func (p *Plan) Operations() []Operation {
	out := make([]Operation, 0, p.Len())
	for _, ops := range p.phases {
		out = append(out, ops...)
	}
	return out
}

// Len returns the total number of operations.
func (p *Plan) Len() int {
	n := 0
	for _, ops := range p.phases {
		n += len(ops)
	}
	return n
}

// Empty reports whether the plan has no operations at all.
func (p *Plan) Empty() bool {
	return p.Len() == 0
}

// Counts returns the number of operations per phase, including empty ones.
func (p *Plan) Counts() map[Phase]int {
	counts := make(map[Phase]int, len(Phases))
	for _, ph := range Phases {
		counts[ph] = len(p.phases[ph-1])
	}
	return counts
}

// Summary renders the per-phase counts on one line.
func (p *Plan) Summary() string {
	parts := make([]string, 0, len(Phases))
	for _, ph := range Phases {
		parts = append(parts, fmt.Sprintf("%s=%d", ph, len(p.phases[ph-1])))
	}
	return strings.Join(parts, " ")
}
