package formflow

import "fmt"

// Ref names one published version of a Form or Workflow.
type Ref struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@v%d", r.ID, r.Version)
}
