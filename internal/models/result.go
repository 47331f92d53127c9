package models

// ResultKind tags the variant carried by a Result.
type ResultKind string

const (
	// ResultKindConsulting carries the staged consulting analysis.
	ResultKindConsulting ResultKind = "consulting"
	// ResultKindDocument carries the raw generated text.
	ResultKindDocument ResultKind = "document"
)

// Result is the terminal output of a completed job. A completed job may have
// no Result at all when the stream ended without any parsable output; callers
// must treat "completed with nil result" as a legal degraded outcome.
type Result struct {
	Kind       ResultKind        `json:"kind"`
	Consulting *ConsultingResult `json:"consulting,omitempty"`
	Document   string            `json:"document,omitempty"`
}

// ConsultingResult is the assembled output of an "analyze" job. Absent or
// unparsable sub-results are substituted with their default shapes so
// consumers never branch on missing fields.
type ConsultingResult struct {
	ProjectOverview ProjectOverview `json:"projectOverview"`
	Modules         []Module        `json:"modules"`
	Estimates       Estimates       `json:"estimates"`
	Schedule        Schedule        `json:"schedule"`
	Summary         Summary         `json:"summary"`
}

// ProjectOverview describes the proposed project at a glance.
type ProjectOverview struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Goals       []string `json:"goals"`
}

// Module is one independently scoped unit of work in the proposal.
type Module struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Features    []string `json:"features"`
}

// EstimateLine is the effort/cost estimate for a single module.
type EstimateLine struct {
	Module string `json:"module"`
	Hours  int    `json:"hours"`
	Cost   int    `json:"cost"`
}

// Estimates aggregates effort and cost across modules.
type Estimates struct {
	TotalHours int            `json:"totalHours"`
	TotalCost  int            `json:"totalCost"`
	Currency   string         `json:"currency"`
	Breakdown  []EstimateLine `json:"breakdown"`
}

// Phase is one delivery phase in the proposed schedule.
type Phase struct {
	Name         string   `json:"name"`
	Weeks        int      `json:"weeks"`
	Deliverables []string `json:"deliverables"`
}

// Schedule lays out the delivery timeline.
type Schedule struct {
	TotalWeeks int     `json:"totalWeeks"`
	Phases     []Phase `json:"phases"`
}

// Summary is the closing assessment of the proposal.
type Summary struct {
	Text            string   `json:"text"`
	Recommendations []string `json:"recommendations"`
	Risks           []string `json:"risks"`
}

// DefaultProjectOverview returns the shape substituted when the overview
// stage is absent.
func DefaultProjectOverview() ProjectOverview {
	return ProjectOverview{Title: "Untitled Project", Goals: []string{}}
}

// DefaultEstimates returns the shape substituted when estimates are absent.
func DefaultEstimates() Estimates {
	return Estimates{Currency: "USD", Breakdown: []EstimateLine{}}
}

// DefaultSchedule returns the shape substituted when the schedule is absent.
func DefaultSchedule() Schedule {
	return Schedule{Phases: []Phase{}}
}

// DefaultSummary returns the shape substituted when the summary is absent.
func DefaultSummary() Summary {
	return Summary{Recommendations: []string{}, Risks: []string{}}
}

// DefaultConsultingResult returns a ConsultingResult with every sub-result
// set to its default shape and an empty module list.
func DefaultConsultingResult() *ConsultingResult {
	return &ConsultingResult{
		ProjectOverview: DefaultProjectOverview(),
		Modules:         []Module{},
		Estimates:       DefaultEstimates(),
		Schedule:        DefaultSchedule(),
		Summary:         DefaultSummary(),
	}
}
