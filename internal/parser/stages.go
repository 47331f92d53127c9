// Package parser detects semantically complete stages inside a growing
// generation stream and parses the finished stream into a typed result.
package parser

import (
	"encoding/json"
	"strings"

	"github.com/chyon8/AI-consultant-sub001/internal/models"
)

// Stage identifiers, in detection priority order.
const (
	StageProjectOverview = "projectOverview"
	StageModules         = "modules"
	StageEstimates       = "estimates"
	StageSchedule        = "schedule"
	StageSummary         = "summary"
)

// StageOrder is the fixed priority order in which stages are detected and
// published, regardless of marker arrival order.
var StageOrder = []string{
	StageProjectOverview,
	StageModules,
	StageEstimates,
	StageSchedule,
	StageSummary,
}

// stageMarkers maps each stage to its in-band sentinel token.
var stageMarkers = map[string]string{
	StageProjectOverview: "<!--STAGE_PROJECT_OVERVIEW_COMPLETE-->",
	StageModules:         "<!--STAGE_MODULES_COMPLETE-->",
	StageEstimates:       "<!--STAGE_ESTIMATES_COMPLETE-->",
	StageSchedule:        "<!--STAGE_SCHEDULE_COMPLETE-->",
	StageSummary:         "<!--STAGE_SUMMARY_COMPLETE-->",
}

const (
	fenceClose = "```"
	// backtrackWindow must cover any marker or fence tag that straddles a
	// fragment boundary. The longest token is the projectOverview marker.
	backtrackWindow = 64
)

// Marker returns the sentinel token for a stage, or "" for unknown stages.
func Marker(stage string) string {
	return stageMarkers[stage]
}

// fenceTag returns the opening fence for a stage's payload block.
func fenceTag(stage string) string {
	return "```json:" + stage
}

// Detection is the outcome of a successful stage scan.
type Detection struct {
	Stage     string
	Data      json.RawMessage
	MarkerPos int
}

// Detect scans the full accumulated text for the first not-yet-seen stage,
// in priority order, whose marker is present and whose fenced payload block
// parses as valid JSON. A marker whose payload is missing, unterminated, or
// malformed is treated as not ready yet, never as an error: the stream is
// still growing and the block may simply be truncated mid-token.
func Detect(text string, seen map[string]bool) *Detection {
	for _, stage := range StageOrder {
		if seen[stage] {
			continue
		}
		pos := strings.Index(text, stageMarkers[stage])
		if pos < 0 {
			continue
		}
		data, ok := extractStageBlock(text, stage)
		if !ok {
			continue
		}
		return &Detection{Stage: stage, Data: data, MarkerPos: pos}
	}
	return nil
}

// extractStageBlock pulls the payload out of the first ```json:<stage> fence
// in text. Returns ok=false when the fence is absent, unterminated, or the
// payload is not valid JSON.
func extractStageBlock(text, stage string) (json.RawMessage, bool) {
	return extractFence(text, fenceTag(stage))
}

func extractFence(text, openTag string) (json.RawMessage, bool) {
	start := strings.Index(text, openTag)
	if start < 0 {
		return nil, false
	}
	return extractFenceAt(text, start+len(openTag))
}

// extractFenceAt parses the payload beginning just after an opening fence
// tag at byte offset body.
func extractFenceAt(text string, body int) (json.RawMessage, bool) {
	end := strings.Index(text[body:], fenceClose)
	if end < 0 {
		return nil, false
	}
	payload := strings.TrimSpace(text[body : body+end])
	if payload == "" || !json.Valid([]byte(payload)) {
		return nil, false
	}
	return json.RawMessage(payload), true
}

// Scanner incrementally detects stages over a growing buffer. It remembers
// marker and fence positions so each call only searches the unscanned suffix
// plus a small backtrack window, instead of rescanning the whole buffer per
// fragment.
type Scanner struct {
	seen     map[string]bool
	markerAt map[string]int
	fenceAt  map[string]int // offset just past the opening fence tag
	scanned  int
}

// NewScanner returns a Scanner with no stages seen.
func NewScanner() *Scanner {
	return &Scanner{
		seen:     make(map[string]bool),
		markerAt: make(map[string]int),
		fenceAt:  make(map[string]int),
	}
}

// Seen returns the set of stage identifiers already detected.
func (s *Scanner) Seen() map[string]bool {
	return s.seen
}

// Scan inspects text, which must be the same buffer passed to previous calls
// plus newly appended fragments, and returns the first newly complete stage
// or nil. Each stage is returned at most once per Scanner.
func (s *Scanner) Scan(text string) *Detection {
	from := s.scanned - backtrackWindow
	if from < 0 {
		from = 0
	}
	window := text[from:]

	for _, stage := range StageOrder {
		if s.seen[stage] {
			continue
		}
		if _, ok := s.markerAt[stage]; !ok {
			if i := strings.Index(window, stageMarkers[stage]); i >= 0 {
				s.markerAt[stage] = from + i
			}
		}
		if _, ok := s.fenceAt[stage]; !ok {
			tag := fenceTag(stage)
			if i := strings.Index(window, tag); i >= 0 {
				s.fenceAt[stage] = from + i + len(tag)
			}
		}
	}
	s.scanned = len(text)

	for _, stage := range StageOrder {
		if s.seen[stage] {
			continue
		}
		markerPos, haveMarker := s.markerAt[stage]
		body, haveFence := s.fenceAt[stage]
		if !haveMarker || !haveFence {
			continue
		}
		data, ok := extractFenceAt(text, body)
		if !ok {
			continue // closing fence or valid payload not arrived yet
		}
		s.seen[stage] = true
		return &Detection{Stage: stage, Data: data, MarkerPos: markerPos}
	}
	return nil
}

// ParseFinal parses the complete accumulated text of a finished stream into
// a ConsultingResult. Stage-tagged blocks win; when none exist at all, a
// single generic ```json block is accepted as a fallback and its fields are
// used directly (some models ignore the staged-output convention). Returns
// nil when nothing parses — the caller records a completed job with an empty
// result.
func ParseFinal(text string) *models.ConsultingResult {
	result := models.DefaultConsultingResult()
	found := false

	if data, ok := extractStageBlock(text, StageProjectOverview); ok {
		if json.Unmarshal(data, &result.ProjectOverview) == nil {
			found = true
		}
	}
	if data, ok := extractStageBlock(text, StageModules); ok {
		var wrapper struct {
			Modules []models.Module `json:"modules"`
		}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Modules != nil {
			result.Modules = wrapper.Modules
			found = true
		} else {
			var list []models.Module
			if json.Unmarshal(data, &list) == nil {
				result.Modules = list
				found = true
			}
		}
	}
	if data, ok := extractStageBlock(text, StageEstimates); ok {
		if json.Unmarshal(data, &result.Estimates) == nil {
			found = true
		}
	}
	if data, ok := extractStageBlock(text, StageSchedule); ok {
		if json.Unmarshal(data, &result.Schedule) == nil {
			found = true
		}
	}
	if data, ok := extractStageBlock(text, StageSummary); ok {
		if json.Unmarshal(data, &result.Summary) == nil {
			found = true
		}
	}
	if found {
		return result
	}
	return parseFallback(text)
}

// parseFallback looks for one generic fenced JSON block and maps its fields
// onto the result shape directly.
func parseFallback(text string) *models.ConsultingResult {
	data, ok := genericBlock(text)
	if !ok {
		return nil
	}
	result := models.DefaultConsultingResult()
	if err := json.Unmarshal(data, result); err != nil {
		return nil
	}
	if result.Modules == nil {
		result.Modules = []models.Module{}
	}
	return result
}

// genericBlock finds the first ```json fence that is not stage-tagged.
func genericBlock(text string) (json.RawMessage, bool) {
	rest := text
	base := 0
	for {
		i := strings.Index(rest, "```json")
		if i < 0 {
			return nil, false
		}
		after := rest[i+len("```json"):]
		// Skip stage-tagged fences; only a bare ```json block qualifies.
		if !strings.HasPrefix(after, ":") {
			return extractFenceAt(text, base+i+len("```json"))
		}
		rest = after
		base += i + len("```json")
	}
}
