// Package testdocs holds the document types the compiler tests share.
package testdocs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pthm/docql/pkg/schema"
)

type Color int

const (
	Red Color = iota
	Blue
	Green
)

func (c Color) String() string {
	switch c {
	case Blue:
		return "Blue"
	case Green:
		return "Green"
	}
	return "Red"
}

type Address struct {
	City string `json:"city"`
	Zip  *int
}

type Item struct {
	Name  string
	Price float64
	Tags  []string
}

type Group struct {
	Label string
	Items []Item
}

// Target exercises every member kind.
type Target struct {
	ID        uuid.UUID
	Number    int
	Small     int16
	Double    float64
	String    string
	OtherName string `json:"other_name,omitempty"`
	Flag      *bool
	Active    bool
	Color     Color
	Date      time.Time
	Address   *Address
	Tags      []string
	Numbers   []int
	Groups    []Group
	Attrs     map[string]string
	Counts    map[string]int
	Raw       json.RawMessage
}

// Audited is soft-deleted and multi-tenanted.
type Audited struct {
	ID    uuid.UUID
	Name  string
	Score int
}

// Registry registers both types. Target has Small duplicated into its own
// column.
func Registry() *schema.Registry {
	r := schema.NewRegistry()
	schema.Register[Target](r, schema.Duplicate("Small", "small", "smallint"))
	schema.Register[Audited](r, schema.SoftDeleted(), schema.MultiTenanted())
	return r
}

// Bool returns a pointer to b.
func Bool(b bool) *bool {
	return &b
}
