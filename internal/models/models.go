package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// StepType is the kind of a canonical recorded action.
type StepType string

const (
	StepNavigate StepType = "navigate"
	StepClick    StepType = "click"
	StepFill     StepType = "fill"
	StepTypeText StepType = "type"
	StepSelect   StepType = "select"
	StepCheck    StepType = "check"
	StepUncheck  StepType = "uncheck"
	StepPress    StepType = "press"
	StepSubmit   StepType = "submit"
)

func (t StepType) Valid() bool {
	switch t {
	case StepNavigate, StepClick, StepFill, StepTypeText, StepSelect,
		StepCheck, StepUncheck, StepPress, StepSubmit:
		return true
	}
	return false
}

// IsEdit reports whether repeated steps of this type on one field collapse.
func (t StepType) IsEdit() bool {
	return t == StepFill || t == StepTypeText
}

func (t StepType) NeedsSelector() bool {
	return t != StepNavigate
}

// Source is the provenance of a step.
type Source string

const (
	SourceAutomation      Source = "automation"
	SourceManual          Source = "manual"
	SourceGeneratedScript Source = "generated-script"
	SourceTrace           Source = "trace"
)

// ParseSource accepts the canonical names plus the short strategy names
// (api, dom, codegen) used by older clients.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "automation", "api":
		return SourceAutomation, nil
	case "manual", "dom", "":
		return SourceManual, nil
	case "generated-script", "codegen", "script":
		return SourceGeneratedScript, nil
	case "trace":
		return SourceTrace, nil
	}
	return "", fmt.Errorf("unknown capture source %q", s)
}

// Step is one canonical recorded action.
type Step struct {
	ID        string   `json:"id"`
	Type      StepType `json:"type"`
	Selector  string   `json:"selector,omitempty"`
	Value     string   `json:"value"`
	Source    Source   `json:"source"`
	Timestamp int64    `json:"timestamp"` // milliseconds
}

// RawEvent is what a capture source emits before normalization.
type RawEvent struct {
	Type      string `json:"type"`
	Selector  string `json:"selector,omitempty"`
	URL       string `json:"url,omitempty"`
	Value     string `json:"value,omitempty"`
	Text      string `json:"text,omitempty"`
	Checked   *bool  `json:"checked,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// SourceConfig selects the single capture source of a recording.
type SourceConfig struct {
	Source     Source `json:"source"`
	ScriptText string `json:"script_text,omitempty"`
	TracePath  string `json:"trace_path,omitempty"`
}

// Recording is a completed recording persisted with its synthesized script.
type Recording struct {
	BaseModel
	SessionID string `json:"session_id" gorm:"size:64;index;not null"`
	Name      string `json:"name" gorm:"size:200;not null"`
	URL       string `json:"url" gorm:"size:500"`
	Source    Source `json:"source" gorm:"size:32"`
	Steps     string `json:"steps" gorm:"type:longtext"` // JSON format Step array
	Script    string `json:"script" gorm:"type:longtext"`
	StepCount int    `json:"step_count"`
}

func NewRecording(sessionID, name, url string, source Source, steps []Step, script string) (*Recording, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	return &Recording{
		SessionID: sessionID,
		Name:      name,
		URL:       url,
		Source:    source,
		Steps:     string(stepsJSON),
		Script:    script,
		StepCount: len(steps),
	}, nil
}

func (r *Recording) GetSteps() ([]Step, error) {
	var steps []Step
	if r.Steps == "" {
		return steps, nil
	}
	err := json.Unmarshal([]byte(r.Steps), &steps)
	return steps, err
}
