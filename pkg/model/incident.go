package model

import "time"

type Incident struct {
	ID          string           `groups:"basic"`
	Type        string           `groups:"basic"`
	Severity    IncidentSeverity `groups:"basic"`
	Description string           `groups:"basic"`

	Resolved   bool       `groups:"basic"`
	ReportedAt time.Time  `groups:"basic"`
	ResolvedAt *time.Time `groups:"basic"`

	ReportedBy string `groups:"internal"`
}

type IncidentSeverity string

const (
	IncidentSeverityLow      IncidentSeverity = "low"
	IncidentSeverityMedium   IncidentSeverity = "medium"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

func (s IncidentSeverity) IsValid() bool {
	switch s {
	case IncidentSeverityLow, IncidentSeverityMedium, IncidentSeverityHigh, IncidentSeverityCritical:
		return true
	}
	return false
}

func (i *Incident) Blocks() bool {
	return !i.Resolved && i.Severity != IncidentSeverityLow
}
