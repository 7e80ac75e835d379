package models

// TranscriptMessage is one role-tagged message in a session transcript,
// as produced by the out-of-scope transcript-parsing collaborator (§1)
// and consumed by the Structurer gateway's extract operation (§4.3).
type TranscriptMessage struct {
	Role    string
	Content string
}

// ExtractedRecord is one item of Structurer.extract's result list.
type ExtractedRecord struct {
	Type       RecordType
	Domain     string
	Confidence float64
	Summary    string
	Structured string
}
