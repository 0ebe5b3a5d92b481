// Package profile holds the structured candidate profile extracted from a resume
// and the schema checks every decoded profile has to pass.
package profile

import (
	"strings"
)

type ExperienceLevel string

const (
	Beginner     ExperienceLevel = "beginner"
	Intermediate ExperienceLevel = "intermediate"
	Expert       ExperienceLevel = "expert"
)

// Levels lists the accepted experience levels in ascending order.
func Levels() []ExperienceLevel {
	return []ExperienceLevel{Beginner, Intermediate, Expert}
}

type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Dates       string `json:"dates"`
}

type WorkExperience struct {
	Company      string   `json:"company"`
	Position     string   `json:"position"`
	Dates        string   `json:"dates"`
	Achievements []string `json:"achievements"`
}

type Certification struct {
	Name   string `json:"name"`
	Issuer string `json:"issuer"`
	Date   string `json:"date"`
}

// Profile is the structured extraction of a candidate document.
type Profile struct {
	Description     string           `json:"description"`
	SoftSkills      string           `json:"soft_skills"`
	TechnicalSkills string           `json:"technical_skills"`
	ExperienceLevel ExperienceLevel  `json:"experience_level" validate:"required,oneof=beginner intermediate expert"`
	Education       []Education      `json:"education" validate:"dive"`
	WorkExperience  []WorkExperience `json:"work_experience" validate:"dive"`
	Certifications  []Certification  `json:"certifications" validate:"dive"`
}

// normalize replaces nil collections with empty ones so the encoded shape
// never drops to null.
func (p *Profile) normalize() {
	if p.Education == nil {
		p.Education = []Education{}
	}
	if p.WorkExperience == nil {
		p.WorkExperience = []WorkExperience{}
	}
	for i := range p.WorkExperience {
		if p.WorkExperience[i].Achievements == nil {
			p.WorkExperience[i].Achievements = []string{}
		}
	}
	if p.Certifications == nil {
		p.Certifications = []Certification{}
	}
}

// TechnicalSkillList splits the comma-joined technical skills.
func (p *Profile) TechnicalSkillList() []string {
	return splitSkills(p.TechnicalSkills)
}

// SoftSkillList splits the comma-joined soft skills.
func (p *Profile) SoftSkillList() []string {
	return splitSkills(p.SoftSkills)
}

func splitSkills(s string) []string {
	result := make([]string, 0)
	for _, skill := range strings.Split(s, ",") {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		result = append(result, skill)
	}
	return result
}
