package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Domain is one of the three scored skill axes.
type Domain string

const (
	DataGathering       Domain = "Data Gathering"
	Management          Domain = "Management"
	InterpersonalSkills Domain = "Interpersonal Skills"
)

// Domains lists every domain in display order.
var Domains = []Domain{DataGathering, Management, InterpersonalSkills}

// Key returns the camel-case key the domain is stored under in attempts.
func (d Domain) Key() string {
	switch d {
	case DataGathering:
		return "dataGathering"
	case Management:
		return "management"
	case InterpersonalSkills:
		return "interpersonalSkills"
	}
	return ""
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	return d.Key() != ""
}

// ParseDomain matches a domain label loosely: case and spaces are ignored,
// so "Data Gathering", "dataGathering" and "datagathering" are all equal.
// Unknown labels return ok == false.
func ParseDomain(s string) (Domain, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, d := range Domains {
		if strings.ToLower(d.Key()) == norm {
			return d, true
		}
	}
	return "", false
}

// ChecklistItem is one point of a case's marking checklist.
type ChecklistItem struct {
	Domain Domain `json:"Domain"`
	Point  string `json:"Point"`
}

// CandidateInfo is the brief handed to the candidate before the station.
type CandidateInfo struct {
	WhereAreYou      string `json:"whereAreYou,omitempty"`
	WhoYourPatientIs string `json:"whoYourPatientIs,omitempty"`
	OtherInformation string `json:"otherInformation,omitempty"`
	WhatYouMustDo    string `json:"whatYouMustDo,omitempty"`
	SpecialNote      string `json:"specialNote,omitempty"`
}

// CaseRecord is one clinical case of the bank. Topic, Category and
// SubCategory place it in the tree; CaseName is globally unique.
type CaseRecord struct {
	CaseName        string          `json:"caseName"`
	Topic           string          `json:"topic"`
	Category        string          `json:"category"`
	SubCategory     string          `json:"subCategory"`
	CaseUID         string          `json:"caseUID,omitempty"`
	Synonyms        []string        `json:"synonyms,omitempty"`
	IsFreeCase      bool            `json:"isFreeCase"`
	IsNewCase       bool            `json:"isNewCase"`
	SimulatorGender string          `json:"simulatorGender,omitempty"`
	CandidateInfo   CandidateInfo   `json:"candidateInfo"`
	Checklist       json.RawMessage `json:"checklist,omitempty"`
	PatientInfo     string          `json:"patientInfo,omitempty"`
	KeyPoints       string          `json:"keyPoints,omitempty"`
	FindingsText    string          `json:"findingsText,omitempty"`
	FindingsImage   string          `json:"findingsImage,omitempty"`
	InTimeSections  json.RawMessage `json:"inTimeSections,omitempty"`
	LastEdited      *time.Time      `json:"lastEdited,omitempty"`
	EditedBy        string          `json:"editedBy,omitempty"`
}

// Summary returns a copy of c stripped of its heavy content fields.
func (c CaseRecord) Summary() CaseRecord {
	return CaseRecord{
		CaseName:    c.CaseName,
		Topic:       c.Topic,
		Category:    c.Category,
		SubCategory: c.SubCategory,
		CaseUID:     c.CaseUID,
		Synonyms:    c.Synonyms,
		IsFreeCase:  c.IsFreeCase,
		IsNewCase:   c.IsNewCase,
	}
}
