package integrity

import "time"

// Report is the summary handed to report rendering.
type Report struct {
	FocusLostCount     int           `json:"focusLostCount"`
	NoFaceCount        int           `json:"noFaceCount"`
	MultipleFacesCount int           `json:"multipleFacesCount"`
	PhoneDetectedCount int           `json:"phoneDetectedCount"`
	NotesDetectedCount int           `json:"notesDetectedCount"`
	BookDetectedCount  int           `json:"bookDetectedCount"`
	TotalEvents        int           `json:"totalEvents"`
	IntegrityScore     int           `json:"integrityScore"`
	Severity           Severity      `json:"severity"`
	Duration           int           `json:"duration"` // whole minutes, 0 while running
	Events             []ReportEvent `json:"events"`
}

// ReportEvent is one row of the report's event table.
type ReportEvent struct {
	Type       ViolationKind `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Confidence float64       `json:"confidence"`
}

// Report derives the report summary from the snapshot.
func (s Snapshot) Report() Report {
	r := Report{
		FocusLostCount:     s.CountsByKind[FocusLost],
		NoFaceCount:        s.CountsByKind[NoFace],
		MultipleFacesCount: s.CountsByKind[MultipleFaces],
		PhoneDetectedCount: s.CountsByKind[PhoneDetected],
		NotesDetectedCount: s.CountsByKind[NotesDetected],
		BookDetectedCount:  s.CountsByKind[BookDetected],
		TotalEvents:        s.TotalEvents,
		IntegrityScore:     s.Score,
		Severity:           s.Severity,
		Events:             make([]ReportEvent, 0, len(s.Events)),
	}
	if s.DurationMinutes != nil {
		r.Duration = *s.DurationMinutes
	}
	for _, ev := range s.Events {
		r.Events = append(r.Events, ReportEvent{
			Type:       ev.Kind,
			Timestamp:  ev.Timestamp,
			Confidence: ClampConfidence(ev.Confidence),
		})
	}
	return r
}

// SessionRecord is the shape persisted and published at session boundaries.
type SessionRecord struct {
	ID             string           `json:"id"`
	RoomID         string           `json:"roomId"`
	CandidateName  string           `json:"candidateName"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        *time.Time       `json:"endTime,omitempty"`
	IntegrityScore int              `json:"integrityScore"`
	Degraded       bool             `json:"degraded,omitempty"`
	Events         []ViolationEvent `json:"events"`
}

// Record converts the snapshot into its persisted form.
func (s Snapshot) Record() SessionRecord {
	events := make([]ViolationEvent, len(s.Events))
	copy(events, s.Events)
	return SessionRecord{
		ID:             s.SessionID,
		RoomID:         s.RoomID,
		CandidateName:  s.CandidateName,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		IntegrityScore: s.Score,
		Degraded:       s.Degraded,
		Events:         events,
	}
}
