package engine

// Stage identifies one of the seven ordered steps in the outreach
// sequence. The send path and the manual-override guard both derive the
// next stage from this single type, so they can never disagree about what
// comes after what.
type Stage string

const (
	Stage1 Stage = "stage_1"
	Stage2 Stage = "stage_2"
	Stage3 Stage = "stage_3"
	Stage4 Stage = "stage_4"
	Stage5 Stage = "stage_5"
	Stage6 Stage = "stage_6"
	Stage7 Stage = "stage_7"
)

// Stages is the fixed ordered sequence. A lead advances through it front to
// back; there is no branching.
var Stages = [7]Stage{Stage1, Stage2, Stage3, Stage4, Stage5, Stage6, Stage7}

// SequenceLength is the number of sends in a full sequence run.
const SequenceLength = len(Stages)

// ParseStage returns the Stage for a stored string, or false if the string
// is not a known stage.
func ParseStage(s string) (Stage, bool) {
	for _, stage := range Stages {
		if string(stage) == s {
			return stage, true
		}
	}
	return "", false
}

// Index returns the 1-based position of the stage in the sequence, or 0 for
// an unknown stage.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i + 1
		}
	}
	return 0
}

// Next returns the stage that follows s, or false if s is the last stage.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx == 0 || idx >= SequenceLength {
		return "", false
	}
	return Stages[idx], true
}

// StageForSentCount maps the number of emails already sent to the stage
// that should fire next. It returns false once the sequence is complete.
func StageForSentCount(sent int) (Stage, bool) {
	if sent < 0 || sent >= SequenceLength {
		return "", false
	}
	return Stages[sent], true
}
