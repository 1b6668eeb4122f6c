package approval

import "time"

// Relationship selects whether a listing is scoped to applications the
// requester submitted or applications addressed to the requester.
type Relationship string

const (
	RelationshipSubmittedBy Relationship = "submitted_by"
	RelationshipSubmittedTo Relationship = "submitted_to"
)

// ListFilter is the structured query for listings. Zero values mean "no
// constraint"; stores compile the populated fields into their native query
// instead of concatenating fragments.
type ListFilter struct {
	RequesterID  string
	Relationship Relationship
	State        State // interpreted per Relationship

	Type             string
	ApplicationID    string
	ApplicantGroupID string
	HankoID          string // matches applications carrying the decision with this ID
	StartDate        time.Time
	EndDate          time.Time
	IncludeDeleted   bool

	StartIndex int // offset into the creation-date-descending ordering
	BatchSize  int // 0 = store default page size
}

// DefaultBatchSize caps unpaginated listings.
const DefaultBatchSize = 50

// Normalize fills pagination defaults.
func (f ListFilter) Normalize() ListFilter {
	if f.BatchSize <= 0 {
		f.BatchSize = DefaultBatchSize
	}
	if f.StartIndex < 0 {
		f.StartIndex = 0
	}
	return f
}

// Page is one listing page plus the total match count.
type Page struct {
	Count        int      `json:"count"`
	Applications []Detail `json:"applications"`
}
