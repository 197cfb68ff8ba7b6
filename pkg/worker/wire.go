package worker

import "github.com/cuemby/orchestra/pkg/types"

// wireMessage is one line of the child-process protocol ExecRunner
// speaks with RunChild over a pipe: zero or more "progress" messages
// followed by exactly one "done" message (Err set on failure, empty on
// success).
type wireMessage struct {
	Type     string          `json:"type"`
	Progress *types.Progress `json:"progress,omitempty"`
	Report   *types.Report   `json:"report,omitempty"`
	Err      string          `json:"err,omitempty"`
}
