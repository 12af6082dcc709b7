package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes the top-level content of one configuration file.
type fileRoot struct {
	Participant string           `hcl:"participant,optional"`
	Program     *ProgramBlock    `hcl:"program,block"`
	Toward      []*CodepointList `hcl:"toward,block"`
	AwayFrom    []*CodepointList `hcl:"away_from,block"`
	Waypoints   []*WaypointBlock `hcl:"waypoint,block"`
	Joint       *JointBlock      `hcl:"joint,block"`
	Output      *OutputBlock     `hcl:"output,block"`
	Run         *RunBlock        `hcl:"run,block"`
	Remain      hcl.Body         `hcl:",remain"`
}

// participantOnly is decoded first so later expressions can refer to it.
type participantOnly struct {
	Participant string   `hcl:"participant,optional"`
	Remain      hcl.Body `hcl:",remain"`
}

// ProgramBlock maps to a `program` block.
type ProgramBlock struct {
	Dir      string   `hcl:"dir,optional"`
	Packages []string `hcl:"packages"`
	Entry    string   `hcl:"entry,optional"`
}

// CodepointList maps to `toward` and `away_from` blocks.
type CodepointList struct {
	Codepoints []string `hcl:"codepoints"`
}

// WaypointBlock maps to a `waypoint "<name>"` block.
type WaypointBlock struct {
	Name       string   `hcl:"name,label"`
	Codepoints []string `hcl:"codepoints"`
	Mandatory  bool     `hcl:"mandatory,optional"`
}

// JointBlock maps to a `joint` block.
type JointBlock struct {
	InPaths     string            `hcl:"in_paths"`
	PathID      hcl.Expression    `hcl:"path_id,optional"`
	Follow      bool              `hcl:"follow,optional"`
	AutoConnect bool              `hcl:"auto_connect,optional"`
	Connect     map[string]string `hcl:"connect,optional"`
	Poll        string            `hcl:"poll,optional"`
	PollMax     string            `hcl:"poll_max,optional"`
}

// OutputBlock maps to an `output` block.
type OutputBlock struct {
	Path     string         `hcl:"path"`
	Terminal hcl.Expression `hcl:"terminal,optional"`
	Early    bool           `hcl:"early,optional"`
	At       []string       `hcl:"at,optional"`
}

// RunBlock maps to a `run` block.
type RunBlock struct {
	Workers   int           `hcl:"workers,optional"`
	StepLimit int64         `hcl:"step_limit,optional"`
	Search    string        `hcl:"search,optional"`
	Recover   *RecoverBlock `hcl:"recover,block"`
}

// RecoverBlock maps to a `recover` block nested in `run`.
type RecoverBlock struct {
	Paths  string         `hcl:"paths,optional"`
	PathID hcl.Expression `hcl:"path_id"`
}
